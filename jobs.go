package jobstore

import (
	"context"

	"github.com/pkg/errors"
	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/jobstore/persist"
)

// StoreJob stores a job. An existing job with the same key is an
// ObjectAlreadyExistsError unless replace is set.
func (j *JobStore) StoreJob(ctx context.Context, job *models.Job, replace bool) error {
	if err := j.normalizeJob(job); err != nil {
		return err
	}
	return j.inTriggerLock(ctx, func(tx persist.Store) error {
		return j.storeJob(ctx, tx, job, replace)
	})
}

// StoreJobAndTrigger stores a job and a trigger for it in one transaction
func (j *JobStore) StoreJobAndTrigger(ctx context.Context, job *models.Job, trigger *models.Trigger, replace bool) error {
	if err := j.normalizeJob(job); err != nil {
		return err
	}
	trigger.JobName = job.Name
	trigger.JobGroup = job.JobGroup
	if err := j.normalizeTrigger(trigger); err != nil {
		return err
	}
	return j.inTriggerLock(ctx, func(tx persist.Store) error {
		if err := j.storeJob(ctx, tx, job, replace); err != nil {
			return err
		}
		return j.storeTrigger(ctx, tx, trigger, replace)
	})
}

// RetrieveJob returns ErrJobNotFound when there is no such job
func (j *JobStore) RetrieveJob(ctx context.Context, key JobKey) (*models.Job, error) {
	job, err := j.loadJob(ctx, j.store, NewJobKey(key.Name, key.Group))
	return job, j.track(err)
}

// RemoveJob removes a job and all its triggers. It reports whether the job existed.
func (j *JobStore) RemoveJob(ctx context.Context, key JobKey) (bool, error) {
	key = NewJobKey(key.Name, key.Group)
	removed := false
	err := j.inTriggerLock(ctx, func(tx persist.Store) error {
		removed = false
		job, err := j.loadJob(ctx, tx, key)
		if err == ErrJobNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.Delete(ctx, &models.Trigger{}, j.whereScheduler(
			persist.Eq("job_name", key.Name),
			persist.Eq("job_group", key.Group),
		))
		if err != nil {
			return persistenceErr("delete triggers of "+key.String(), err)
		}
		if _, err := tx.Delete(ctx, &models.Job{}, []persist.Cond{persist.Eq("id", job.ID)}); err != nil {
			return persistenceErr("delete job "+key.String(), err)
		}
		removed = true
		return nil
	})
	return removed, err
}

// PauseJob pauses every trigger of the job
func (j *JobStore) PauseJob(ctx context.Context, key JobKey) error {
	key = NewJobKey(key.Name, key.Group)
	return j.inTriggerLock(ctx, func(tx persist.Store) error {
		if _, err := j.loadJob(ctx, tx, key); err != nil {
			return err
		}
		triggers, err := j.loadTriggersOfJob(ctx, tx, key)
		if err != nil {
			return err
		}
		for i := range triggers {
			if err := j.pauseTrigger(ctx, tx, &triggers[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// ResumeJob resumes every paused trigger of the job
func (j *JobStore) ResumeJob(ctx context.Context, key JobKey) error {
	key = NewJobKey(key.Name, key.Group)
	return j.inTriggerLock(ctx, func(tx persist.Store) error {
		if _, err := j.loadJob(ctx, tx, key); err != nil {
			return err
		}
		triggers, err := j.loadTriggersOfJob(ctx, tx, key)
		if err != nil {
			return err
		}
		for i := range triggers {
			if err := j.resumeTrigger(ctx, tx, &triggers[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (j *JobStore) normalizeJob(job *models.Job) error {
	if job == nil || job.Name == "" {
		return errors.Wrap(ErrInvalidJob, "a job needs a name")
	}
	job.SchedulerName = j.cfg.SchedulerName
	if job.JobGroup == "" {
		job.JobGroup = DefaultGroup
	}
	return nil
}

func (j *JobStore) storeJob(ctx context.Context, tx persist.Store, job *models.Job, replace bool) error {
	key := KeyOfJob(job)

	existing, err := j.loadJob(ctx, tx, key)
	switch {
	case err == ErrJobNotFound:
		job.ID = 0
		job.CreatedAt = j.now()
		err = tx.Insert(ctx, job)
		if persist.IsDuplicateKey(err) {
			return &ObjectAlreadyExistsError{Kind: "job", Key: key.String()}
		}
		return persistenceErr("insert job "+key.String(), err)
	case err != nil:
		return err
	case !replace:
		return &ObjectAlreadyExistsError{Kind: "job", Key: key.String()}
	}

	_, err = tx.Update(ctx, &models.Job{}, []persist.Cond{persist.Eq("id", existing.ID)}, map[string]interface{}{
		"job_type":                         job.JobType,
		"description":                      job.Description,
		"durable":                          job.Durable,
		"concurrent_execution_disallowed":  job.ConcurrentExecutionDisallowed,
		"persist_job_data_after_execution": job.PersistJobDataAfterExecution,
		"requests_recovery":                job.RequestsRecovery,
		"job_data":                         job.JobData,
	})
	if err != nil {
		return persistenceErr("update job "+key.String(), err)
	}
	job.ID = existing.ID
	job.CreatedAt = existing.CreatedAt
	return nil
}
