package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/testc"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestStoreJob(test *testing.T) {
	t := testc.New(test)
	ctx := context.Background()

	t.Given("a job store")
	j := testSetup(logrus.ErrorLevel)
	defer testTeardown(j)

	t.When("we store a job without a group")
	job := testJob()
	job.JobGroup = ""
	job.Description = "first"
	require.NoError(test, j.StoreJob(ctx, job, false))

	t.Then("it is stored in the default group")
	stored, err := j.RetrieveJob(ctx, NewJobKey(job.Name, ""))
	require.NoError(test, err)
	t.Equal(DefaultGroup, stored.JobGroup)
	t.Equal("first", stored.Description)
	t.Equal(DefaultSchedulerName, stored.SchedulerName)

	t.When("we store it again")
	dup := &models.Job{Name: job.Name, Description: "second"}
	err = j.StoreJob(ctx, dup, false)

	t.Then("it already exists")
	t.True(IsObjectAlreadyExists(err))

	t.When("we store it again replacing the old one")
	t.NoError(j.StoreJob(ctx, dup, true))

	t.Then("it was replaced in place")
	stored, err = j.RetrieveJob(ctx, NewJobKey(job.Name, ""))
	require.NoError(test, err)
	t.Equal("second", stored.Description)
	t.Equal(job.ID, stored.ID)

	t.Then("a job needs a name")
	t.ErrorIs(j.StoreJob(ctx, &models.Job{}, false), ErrInvalidJob)
}

func TestStoreJobSchedulerPartition(test *testing.T) {
	t := testc.New(test)
	ctx := context.Background()

	t.Given("two schedulers sharing a database")
	c := testSetupCluster(logrus.ErrorLevel, 0)
	defer c.teardown()
	billing := c.up(testNode(c.db, c.logger, "").SchedulerName("billing"))
	reports := c.up(testNode(c.db, c.logger, "").SchedulerName("reports"))

	t.When("both store a job with the same key")
	job := testJob()
	same := &models.Job{Name: job.Name, JobGroup: job.JobGroup}
	t.NoError(billing.StoreJob(ctx, job, false))
	t.NoError(reports.StoreJob(ctx, same, false))

	t.Then("each sees its own job")
	t.NotEqual(job.ID, same.ID)
	stored, err := billing.RetrieveJob(ctx, KeyOfJob(job))
	require.NoError(test, err)
	t.Equal("billing", stored.SchedulerName)
}

func TestRemoveJob(test *testing.T) {
	t := testc.New(test)
	ctx := context.Background()

	t.Given("a job store")
	j := testSetup(logrus.ErrorLevel)
	defer testTeardown(j)

	t.Given("a job with two triggers")
	job := testJob()
	require.NoError(test, j.StoreJob(ctx, job, false))
	for i := 0; i < 2; i++ {
		require.NoError(test, j.StoreTrigger(ctx, testTrigger(job, now().Add(time.Hour), 0, 0), false))
	}

	t.When("the job is removed")
	removed, err := j.RemoveJob(ctx, KeyOfJob(job))

	t.Then("the job and its triggers are gone")
	t.NoError(err)
	t.True(removed)
	_, err = j.RetrieveJob(ctx, KeyOfJob(job))
	t.ErrorIs(err, ErrJobNotFound)
	triggers, err := j.TriggersForJob(ctx, KeyOfJob(job))
	t.NoError(err)
	t.Len(triggers, 0)

	t.Then("removing it again reports nothing removed")
	removed, err = j.RemoveJob(ctx, KeyOfJob(job))
	t.NoError(err)
	t.False(removed)
}

func TestPauseResumeJob(test *testing.T) {
	t := testc.New(test)
	ctx := context.Background()

	t.Given("a job store")
	j := testSetup(logrus.ErrorLevel)
	defer testTeardown(j)

	at := now()
	t.Given("a job with two due triggers")
	job := testJob()
	require.NoError(test, j.StoreJob(ctx, job, false))
	first := testTrigger(job, at.Add(-time.Second), 0, 0)
	second := testTrigger(job, at.Add(-time.Second), 0, 0)
	require.NoError(test, j.StoreTrigger(ctx, first, false))
	require.NoError(test, j.StoreTrigger(ctx, second, false))

	t.When("the job is paused")
	require.NoError(test, j.PauseJob(ctx, KeyOfJob(job)))

	t.Then("its triggers are paused and not acquired")
	triggers, err := j.TriggersForJob(ctx, KeyOfJob(job))
	require.NoError(test, err)
	require.Len(test, triggers, 2)
	for _, tr := range triggers {
		t.Equal(models.StatePaused, tr.State)
	}
	acquired, err := j.AcquireNextTriggers(ctx, at, 10, 0)
	t.NoError(err)
	t.Len(acquired, 0)

	t.When("the job is resumed")
	require.NoError(test, j.ResumeJob(ctx, KeyOfJob(job)))

	t.Then("its triggers fire again")
	acquired, err = j.AcquireNextTriggers(ctx, at, 10, 0)
	t.NoError(err)
	t.Len(acquired, 2)

	t.Then("pausing an unknown job fails")
	t.ErrorIs(j.PauseJob(ctx, NewJobKey("missing", "")), ErrJobNotFound)
}
