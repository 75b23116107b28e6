package jobstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/jobstore/persist"
	"github.com/simpleframeworks/logc"
	"github.com/sirupsen/logrus"
)

// AcquiredTrigger is a trigger this instance acquired. It has to be passed to
// TriggerFired or ReleaseAcquiredTrigger.
type AcquiredTrigger struct {
	FireInstanceID    string
	ScheduledFireTime time.Time
	Trigger           models.Trigger
}

// AcquireNextTriggers acquires up to maxCount waiting triggers due no later
// than at + lookAhead, earliest first. The whole batch runs under
// TRIGGER_ACCESS in one transaction.
func (j *JobStore) AcquireNextTriggers(ctx context.Context, at time.Time, maxCount int, lookAhead time.Duration) ([]AcquiredTrigger, error) {
	if err := j.enterAcquire(); err != nil {
		return nil, err
	}
	defer j.acquiring.Done()

	if maxCount <= 0 {
		maxCount = 1
	}
	at = at.UTC().Truncate(time.Millisecond)
	horizon := at.Add(lookAhead)

	var acquired []AcquiredTrigger
	misfired := 0

	err := j.inTriggerLock(ctx, func(tx persist.Store) error {
		acquired = nil
		misfired = 0

		candidates := []models.Trigger{}
		err := tx.Find(ctx, &candidates, persist.Query{
			Where: j.whereScheduler(
				persist.Eq("state", string(models.StateWaiting)),
				persist.NotNull("next_fire_time"),
				persist.Lte("next_fire_time", horizon),
			),
			Order: []persist.Order{
				persist.Asc("next_fire_time"),
				persist.Desc("priority"),
				persist.Asc("name"),
				persist.Asc("trigger_group"),
			},
			Limit: maxCount,
		})
		if err != nil {
			return persistenceErr("find due triggers", err)
		}

		batchJobs := map[JobKey]struct{}{}
		for i := range candidates {
			got, wasMisfired, err := j.acquireOne(ctx, tx, &candidates[i], at, horizon, batchJobs)
			if wasMisfired {
				misfired++
			}
			if IsStaleState(err) {
				j.triggerLog(&candidates[i]).WithError(err).Info("trigger changed before it could be acquired")
				continue
			}
			if err != nil {
				return err
			}
			if got != nil {
				acquired = append(acquired, *got)
			}
		}
		return nil
	})
	if err != nil {
		j.log.WithError(err).Error("failed to acquire triggers")
		return nil, err
	}

	j.addStats(len(acquired), misfired, 0)
	if len(acquired) > 0 {
		j.log.WithField("Count", len(acquired)).Debug("acquired triggers")
	}
	return acquired, nil
}

// acquireOne re-validates a candidate under the lock and acquires it. A nil
// result without error means the candidate was skipped.
func (j *JobStore) acquireOne(
	ctx context.Context,
	tx persist.Store,
	candidate *models.Trigger,
	at, horizon time.Time,
	batchJobs map[JobKey]struct{},
) (*AcquiredTrigger, bool, error) {
	trigger := models.Trigger{}
	err := tx.First(ctx, &trigger, []persist.Cond{persist.Eq("id", candidate.ID)})
	if persist.IsNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, persistenceErr("read trigger", err)
	}
	if trigger.State != models.StateWaiting || !trigger.NextFireTime.Valid {
		return nil, false, &StaleStateError{Entity: "trigger", Key: KeyOfTrigger(&trigger).String(), Expected: string(models.StateWaiting)}
	}
	log := j.triggerLog(&trigger)

	job, err := j.loadJob(ctx, tx, JobKeyOfTrigger(&trigger))
	if err != nil {
		if err == ErrJobNotFound {
			log.Error("trigger references a missing job")
			return nil, false, transitionTrigger(ctx, tx, &trigger, []models.TriggerState{models.StateWaiting}, models.StateError, nil)
		}
		return nil, false, err
	}

	cal, err := j.loadTriggerCalendar(ctx, tx, &trigger)
	if err != nil {
		if err == ErrCalendarNotFound {
			log.Error("trigger references a missing calendar")
			return nil, false, transitionTrigger(ctx, tx, &trigger, []models.TriggerState{models.StateWaiting}, models.StateError, nil)
		}
		return nil, false, err
	}

	sched, err := ScheduleFor(&trigger)
	if err != nil {
		log.WithError(err).Error("trigger has an invalid schedule")
		return nil, false, transitionTrigger(ctx, tx, &trigger, []models.TriggerState{models.StateWaiting}, models.StateError, nil)
	}

	misfired := applyMisfire(&trigger, sched, cal, at, j.cfg.MisfireThreshold)
	if misfired {
		log.WithField("Trigger.NextFireTime", models.NullToNilTime(trigger.NextFireTime)).Info("trigger misfired")

		values := map[string]interface{}{
			"next_fire_time":  trigger.NextFireTime,
			"times_triggered": trigger.TimesTriggered,
		}
		to := models.StateWaiting
		if !trigger.NextFireTime.Valid {
			to = models.StateComplete
		}
		if err := transitionTrigger(ctx, tx, &trigger, []models.TriggerState{models.StateWaiting}, to, values); err != nil {
			return nil, true, err
		}
		if to == models.StateComplete || trigger.NextFireTime.Time.After(horizon) {
			return nil, true, nil
		}
	}

	jobKey := KeyOfJob(job)
	if job.ConcurrentExecutionDisallowed {
		if _, ok := batchJobs[jobKey]; ok {
			return nil, misfired, nil
		}
		running, err := jobHasFired(ctx, tx, j.cfg.SchedulerName, jobKey, "")
		if err != nil {
			return nil, misfired, err
		}
		if running {
			log.Debug("job is already running, blocking trigger")
			return nil, misfired, transitionTrigger(ctx, tx, &trigger, []models.TriggerState{models.StateWaiting}, models.StateBlocked, nil)
		}
	}

	scheduled := trigger.NextFireTime.Time
	prev := trigger.PrevFireTime
	times := trigger.TimesTriggered + 1

	next := models.NullTime(nextFireTime(&trigger, sched, cal, scheduled, times))
	err = transitionTrigger(ctx, tx, &trigger, []models.TriggerState{models.StateWaiting}, models.StateAcquired, map[string]interface{}{
		"next_fire_time":  next,
		"prev_fire_time":  models.NewNullTime(scheduled),
		"times_triggered": times,
	})
	if err != nil {
		return nil, misfired, err
	}
	trigger.NextFireTime = next
	trigger.PrevFireTime = models.NewNullTime(scheduled)
	trigger.TimesTriggered = times

	fired := &models.FiredTrigger{
		SchedulerName:                 j.cfg.SchedulerName,
		FireInstanceID:                uuid.New().String(),
		InstanceID:                    j.cfg.InstanceID,
		TriggerID:                     trigger.ID,
		TriggerName:                   trigger.Name,
		TriggerGroup:                  trigger.TriggerGroup,
		JobName:                       trigger.JobName,
		JobGroup:                      trigger.JobGroup,
		State:                         models.FiredAcquired,
		FiredTime:                     at,
		ScheduledTime:                 scheduled,
		PrevFireTime:                  prev,
		Priority:                      trigger.Priority,
		ConcurrentExecutionDisallowed: job.ConcurrentExecutionDisallowed,
		RequestsRecovery:              job.RequestsRecovery,
	}
	if err := tx.Insert(ctx, fired); err != nil {
		return nil, misfired, persistenceErr("insert fired trigger", err)
	}

	if job.ConcurrentExecutionDisallowed {
		batchJobs[jobKey] = struct{}{}
	}

	log.WithField("FireInstanceID", fired.FireInstanceID).Trace("trigger acquired")

	return &AcquiredTrigger{
		FireInstanceID:    fired.FireInstanceID,
		ScheduledFireTime: scheduled,
		Trigger:           trigger,
	}, misfired, nil
}

// ReleaseAcquiredTrigger gives back a trigger that was acquired but will not
// be fired. The trigger goes back to WAITING with the fire time it had.
func (j *JobStore) ReleaseAcquiredTrigger(ctx context.Context, fireInstanceID string) error {
	return j.inTriggerLock(ctx, func(tx persist.Store) error {
		fired, err := j.loadFired(ctx, tx, fireInstanceID)
		if err != nil {
			if persist.IsNotFound(err) {
				return nil
			}
			return err
		}
		if fired.State != models.FiredAcquired {
			return &StaleStateError{Entity: "fired trigger", Key: fireInstanceID, Expected: string(models.FiredAcquired)}
		}

		trigger, err := j.loadFiredTrigger(ctx, tx, fired)
		if err != nil && err != ErrTriggerNotFound {
			return err
		}
		if trigger != nil {
			err = j.revertTrigger(ctx, tx, trigger, fired, []models.TriggerState{models.StateAcquired}, models.StateWaiting)
			if IsStaleState(err) {
				j.triggerLog(trigger).WithError(err).Info("released trigger had already changed")
			} else if err != nil {
				return err
			}
		}
		return j.deleteFired(ctx, tx, fired)
	})
}

// revertTrigger undoes what acquisition did to the trigger's fire times
func (j *JobStore) revertTrigger(
	ctx context.Context,
	tx persist.Store,
	trigger *models.Trigger,
	fired *models.FiredTrigger,
	from []models.TriggerState,
	to models.TriggerState,
) error {
	times := trigger.TimesTriggered - 1
	if times < 0 {
		times = 0
	}
	return transitionTrigger(ctx, tx, trigger, from, to, map[string]interface{}{
		"next_fire_time":  models.NewNullTime(fired.ScheduledTime),
		"prev_fire_time":  fired.PrevFireTime,
		"times_triggered": times,
	})
}

func (j *JobStore) triggerLog(trigger *models.Trigger) logc.Logger {
	return j.log.WithFields(logrus.Fields{
		"Trigger.ID":    trigger.ID,
		"Trigger.Name":  trigger.Name,
		"Trigger.Group": trigger.TriggerGroup,
		"Job.Name":      trigger.JobName,
		"Job.Group":     trigger.JobGroup,
	})
}
