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

func TestStoreCalendar(test *testing.T) {
	t := testc.New(test)
	ctx := context.Background()

	t.Given("a job store")
	j := testSetup(logrus.ErrorLevel)
	defer testTeardown(j)

	t.When("we store a calendar excluding weekends")
	cal := &models.Calendar{
		Name:  "business-days",
		Rules: models.ExclusionRules{Weekdays: []time.Weekday{time.Saturday, time.Sunday}},
	}
	require.NoError(test, j.StoreCalendar(ctx, cal, false, false))

	t.Then("it can be retrieved with its rules")
	stored, err := j.RetrieveCalendar(ctx, "business-days")
	require.NoError(test, err)
	t.Equal([]time.Weekday{time.Saturday, time.Sunday}, stored.Rules.Weekdays)

	t.Then("storing it again without replacing fails")
	err = j.StoreCalendar(ctx, &models.Calendar{Name: "business-days"}, false, false)
	t.True(IsObjectAlreadyExists(err))

	t.Then("a calendar with an unknown location is refused")
	t.Error(j.StoreCalendar(ctx, &models.Calendar{
		Name:  "bad",
		Rules: models.ExclusionRules{Location: "Nowhere/Land"},
	}, false, false))

	t.When("it is removed")
	removed, err := j.RemoveCalendar(ctx, "business-days")

	t.Then("it is gone")
	t.NoError(err)
	t.True(removed)
	_, err = j.RetrieveCalendar(ctx, "business-days")
	t.ErrorIs(err, ErrCalendarNotFound)
}

func TestCalendarInUse(test *testing.T) {
	t := testc.New(test)
	ctx := context.Background()

	t.Given("a job store")
	j := testSetup(logrus.ErrorLevel)
	defer testTeardown(j)

	t.Given("a trigger using a calendar")
	require.NoError(test, j.StoreCalendar(ctx, &models.Calendar{Name: "holidays"}, false, false))
	job := testJob()
	trigger := testTrigger(job, now().Add(time.Hour), 0, 0)
	trigger.CalendarName = models.NewNullString("holidays")
	testStoreJobAndTrigger(j, job, trigger)

	t.When("the calendar is removed")
	removed, err := j.RemoveCalendar(ctx, "holidays")

	t.Then("it is still in use")
	t.ErrorIs(err, ErrCalendarInUse)
	t.False(removed)
}

func TestStoreCalendarUpdatesTriggers(test *testing.T) {
	t := testc.New(test)
	ctx := context.Background()

	t.Given("a job store")
	j := testSetup(logrus.ErrorLevel)
	defer testTeardown(j)

	start := time.Date(2030, 1, 7, 12, 0, 0, 0, time.UTC) // Monday
	t.Given("a daily trigger starting on a Monday with an empty calendar")
	require.NoError(test, j.StoreCalendar(ctx, &models.Calendar{Name: "days-off"}, false, false))
	job := testJob()
	trigger := testTrigger(job, start, 24*time.Hour, models.RepeatIndefinitely)
	trigger.CalendarName = models.NewNullString("days-off")
	testStoreJobAndTrigger(j, job, trigger)

	t.When("the calendar is replaced to exclude Mondays and Tuesdays")
	require.NoError(test, j.StoreCalendar(ctx, &models.Calendar{
		Name:  "days-off",
		Rules: models.ExclusionRules{Weekdays: []time.Weekday{time.Monday, time.Tuesday}},
	}, true, true))

	t.Then("the trigger moves to Wednesday")
	stored, err := j.RetrieveTrigger(ctx, KeyOfTrigger(trigger))
	require.NoError(test, err)
	t.Equal(start.Add(48*time.Hour), stored.NextFireTime.Time.UTC())
}
