package jobstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/jobstore/persist"
)

// StoreTrigger stores a trigger for an existing job and computes its first
// fire time. An existing trigger with the same key is an
// ObjectAlreadyExistsError unless replace is set.
func (j *JobStore) StoreTrigger(ctx context.Context, trigger *models.Trigger, replace bool) error {
	if err := j.normalizeTrigger(trigger); err != nil {
		return err
	}
	return j.inTriggerLock(ctx, func(tx persist.Store) error {
		return j.storeTrigger(ctx, tx, trigger, replace)
	})
}

// RetrieveTrigger returns ErrTriggerNotFound when there is no such trigger
func (j *JobStore) RetrieveTrigger(ctx context.Context, key TriggerKey) (*models.Trigger, error) {
	trigger, err := j.loadTrigger(ctx, j.store, NewTriggerKey(key.Name, key.Group))
	return trigger, j.track(err)
}

// TriggersForJob lists the triggers that fire the job
func (j *JobStore) TriggersForJob(ctx context.Context, key JobKey) ([]models.Trigger, error) {
	triggers, err := j.loadTriggersOfJob(ctx, j.store, NewJobKey(key.Name, key.Group))
	return triggers, j.track(err)
}

// GetTriggerState returns ErrTriggerNotFound when there is no such trigger
func (j *JobStore) GetTriggerState(ctx context.Context, key TriggerKey) (models.TriggerState, error) {
	trigger, err := j.RetrieveTrigger(ctx, key)
	if err != nil {
		return "", err
	}
	return trigger.State, nil
}

// RemoveTrigger removes a trigger and its job when the job is not durable and
// has no other trigger. It reports whether the trigger existed.
func (j *JobStore) RemoveTrigger(ctx context.Context, key TriggerKey) (bool, error) {
	key = NewTriggerKey(key.Name, key.Group)
	removed := false
	err := j.inTriggerLock(ctx, func(tx persist.Store) error {
		removed = false
		trigger, err := j.loadTrigger(ctx, tx, key)
		if err == ErrTriggerNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.Delete(ctx, &models.Trigger{}, []persist.Cond{persist.Eq("id", trigger.ID)}); err != nil {
			return persistenceErr("delete trigger "+key.String(), err)
		}
		removed = true
		_, err = j.removeJobIfOrphaned(ctx, tx, JobKeyOfTrigger(trigger))
		return err
	})
	return removed, err
}

// PauseTrigger stops a trigger from firing until it is resumed
func (j *JobStore) PauseTrigger(ctx context.Context, key TriggerKey) error {
	return j.withTrigger(ctx, key, j.pauseTrigger)
}

// ResumeTrigger lets a paused trigger fire again. A trigger that missed its
// fire time while paused is handled by its misfire instruction.
func (j *JobStore) ResumeTrigger(ctx context.Context, key TriggerKey) error {
	return j.withTrigger(ctx, key, j.resumeTrigger)
}

// ResetTriggerFromErrorState moves a trigger out of ERROR so it fires again
func (j *JobStore) ResetTriggerFromErrorState(ctx context.Context, key TriggerKey) error {
	return j.withTrigger(ctx, key, func(ctx context.Context, tx persist.Store, trigger *models.Trigger) error {
		if trigger.State != models.StateError {
			return nil
		}
		to, err := j.unpausedState(ctx, tx, trigger)
		if err != nil {
			return err
		}
		return transitionTrigger(ctx, tx, trigger, []models.TriggerState{models.StateError}, to, nil)
	})
}

func (j *JobStore) withTrigger(ctx context.Context, key TriggerKey, fn func(context.Context, persist.Store, *models.Trigger) error) error {
	key = NewTriggerKey(key.Name, key.Group)
	return j.inTriggerLock(ctx, func(tx persist.Store) error {
		trigger, err := j.loadTrigger(ctx, tx, key)
		if err != nil {
			return err
		}
		return fn(ctx, tx, trigger)
	})
}

func (j *JobStore) pauseTrigger(ctx context.Context, tx persist.Store, trigger *models.Trigger) error {
	to, ok := pausedState(trigger.State)
	if !ok {
		return nil
	}
	return transitionTrigger(ctx, tx, trigger, []models.TriggerState{trigger.State}, to, nil)
}

func (j *JobStore) resumeTrigger(ctx context.Context, tx persist.Store, trigger *models.Trigger) error {
	if trigger.State != models.StatePaused && trigger.State != models.StatePausedBlocked {
		return nil
	}
	to, err := j.unpausedState(ctx, tx, trigger)
	if err != nil {
		return err
	}
	return transitionTrigger(ctx, tx, trigger, []models.TriggerState{trigger.State}, to, nil)
}

// unpausedState is the state a trigger takes when it may fire again
func (j *JobStore) unpausedState(ctx context.Context, tx persist.Store, trigger *models.Trigger) (models.TriggerState, error) {
	if !trigger.NextFireTime.Valid {
		return models.StateComplete, nil
	}
	job, err := j.loadJob(ctx, tx, JobKeyOfTrigger(trigger))
	if err == ErrJobNotFound {
		return models.StateWaiting, nil
	}
	if err != nil {
		return "", err
	}
	if !job.ConcurrentExecutionDisallowed {
		return models.StateWaiting, nil
	}
	running, err := jobHasFired(ctx, tx, j.cfg.SchedulerName, KeyOfJob(job), "")
	if err != nil {
		return "", err
	}
	if running {
		return models.StateBlocked, nil
	}
	return models.StateWaiting, nil
}

func (j *JobStore) normalizeTrigger(trigger *models.Trigger) error {
	if trigger == nil || trigger.Name == "" {
		return errors.Wrap(ErrInvalidTrigger, "a trigger needs a name")
	}
	if trigger.JobName == "" {
		return errors.Wrapf(ErrInvalidTrigger, "trigger %s has no job", trigger.Name)
	}
	trigger.SchedulerName = j.cfg.SchedulerName
	if trigger.TriggerGroup == "" {
		trigger.TriggerGroup = DefaultGroup
	}
	if trigger.JobGroup == "" {
		trigger.JobGroup = DefaultGroup
	}
	if trigger.ScheduleType == "" {
		trigger.ScheduleType = models.ScheduleSimple
	}
	if trigger.MisfireInstruction < models.MisfireIgnore || trigger.MisfireInstruction > models.MisfireRescheduleNextWithRemainingCount {
		return errors.Wrapf(ErrInvalidTrigger, "unknown misfire instruction %d", trigger.MisfireInstruction)
	}

	if trigger.StartTime.IsZero() {
		trigger.StartTime = j.now()
	}
	trigger.StartTime = trigger.StartTime.UTC().Truncate(time.Millisecond)
	trigger.EndTime = truncNullTime(trigger.EndTime)
	trigger.NextFireTime = truncNullTime(trigger.NextFireTime)
	trigger.PrevFireTime = truncNullTime(trigger.PrevFireTime)
	if trigger.EndTime.Valid && trigger.EndTime.Time.Before(trigger.StartTime) {
		return errors.Wrapf(ErrInvalidTrigger, "trigger %s ends before it starts", trigger.Name)
	}

	switch trigger.ScheduleType {
	case models.ScheduleSimple:
		if trigger.RepeatInterval < 0 || trigger.RepeatCount < models.RepeatIndefinitely {
			return errors.Wrapf(ErrInvalidTrigger, "trigger %s has a negative repeat", trigger.Name)
		}
	case models.ScheduleCron:
		if _, err := ScheduleFor(trigger); err != nil {
			return err
		}
	default:
		return errors.Wrapf(ErrInvalidTrigger, "unknown schedule type %q", trigger.ScheduleType)
	}
	return nil
}

func (j *JobStore) storeTrigger(ctx context.Context, tx persist.Store, trigger *models.Trigger, replace bool) error {
	key := KeyOfTrigger(trigger)

	job, err := j.loadJob(ctx, tx, JobKeyOfTrigger(trigger))
	if err != nil {
		return errors.Wrapf(err, "trigger %s", key)
	}
	cal, err := j.loadTriggerCalendar(ctx, tx, trigger)
	if err != nil {
		return errors.Wrapf(err, "trigger %s", key)
	}
	sched, err := ScheduleFor(trigger)
	if err != nil {
		return err
	}
	if !trigger.NextFireTime.Valid {
		first, ok := firstFireTime(trigger, sched, cal)
		if !ok {
			return errors.Wrapf(ErrWillNeverFire, "trigger %s", key)
		}
		trigger.NextFireTime = models.NewNullTime(first)
	}

	existing, err := j.loadTrigger(ctx, tx, key)
	if err != nil && err != ErrTriggerNotFound {
		return err
	}
	if existing != nil && !replace {
		return &ObjectAlreadyExistsError{Kind: "trigger", Key: key.String()}
	}

	trigger.State = models.StateWaiting
	if job.ConcurrentExecutionDisallowed {
		running, err := jobHasFired(ctx, tx, j.cfg.SchedulerName, KeyOfJob(job), "")
		if err != nil {
			return err
		}
		if running {
			trigger.State = models.StateBlocked
		}
	}

	if existing != nil {
		if existing.State == models.StatePaused || existing.State == models.StatePausedBlocked {
			trigger.State, _ = pausedState(trigger.State)
		}
		if _, err := tx.Delete(ctx, &models.Trigger{}, []persist.Cond{persist.Eq("id", existing.ID)}); err != nil {
			return persistenceErr("replace trigger "+key.String(), err)
		}
		if JobKeyOfTrigger(existing) != JobKeyOfTrigger(trigger) {
			if _, err := j.removeJobIfOrphaned(ctx, tx, JobKeyOfTrigger(existing)); err != nil {
				return err
			}
		}
	}

	trigger.ID = 0
	trigger.CreatedAt = j.now()
	err = tx.Insert(ctx, trigger)
	if persist.IsDuplicateKey(err) {
		return &ObjectAlreadyExistsError{Kind: "trigger", Key: key.String()}
	}
	return persistenceErr("insert trigger "+key.String(), err)
}

func truncNullTime(t sql.NullTime) sql.NullTime {
	if !t.Valid {
		return t
	}
	return models.NewNullTime(t.Time.UTC().Truncate(time.Millisecond))
}
