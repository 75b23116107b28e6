package jobstore

import (
	"context"
	"time"

	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/jobstore/persist"
	"github.com/sirupsen/logrus"
)

// FireStatus is the outcome of TriggerFired
type FireStatus int

const (
	// FireStatusFired the job should run now
	FireStatusFired FireStatus = iota
	// FireStatusAlreadyHandled the fire instance was fired, completed or recovered already
	FireStatusAlreadyHandled
	// FireStatusVetoed the trigger or job changed after acquisition and the job must not run
	FireStatusVetoed
)

func (s FireStatus) String() string {
	switch s {
	case FireStatusFired:
		return "FIRED"
	case FireStatusAlreadyHandled:
		return "ALREADY_HANDLED"
	case FireStatusVetoed:
		return "VETOED"
	}
	return "UNKNOWN"
}

// FireResult is what the caller needs to run the job of a fired trigger
type FireResult struct {
	Status            FireStatus
	FireInstanceID    string
	Trigger           models.Trigger
	Job               models.Job
	Calendar          *models.Calendar
	ScheduledFireTime time.Time
	FireTime          time.Time
	PrevFireTime      *time.Time
	NextFireTime      *time.Time
}

// CompletionInstruction tells the store what to do with the trigger after its job ran
type CompletionInstruction int

const (
	// CompletionNoop moves the trigger on to its next fire time or to COMPLETE
	CompletionNoop CompletionInstruction = iota
	// CompletionSetTriggerComplete ends the trigger
	CompletionSetTriggerComplete
	// CompletionSetTriggerError puts the trigger into ERROR
	CompletionSetTriggerError
	// CompletionDeleteTrigger removes the trigger
	CompletionDeleteTrigger
)

// JobResult is reported by the caller when a job finished
type JobResult struct {
	Err         error
	Instruction CompletionInstruction
	JobData     models.JobData // Stored when the job persists its data after execution
}

func (r JobResult) instruction() CompletionInstruction {
	if r.Instruction == CompletionNoop && r.Err != nil {
		return CompletionSetTriggerError
	}
	return r.Instruction
}

// CompletionStatus is the outcome of TriggeredJobComplete
type CompletionStatus int

const (
	// CompletionCompleted the completion was applied
	CompletionCompleted CompletionStatus = iota
	// CompletionAlreadyHandled the fire instance was already completed or recovered
	CompletionAlreadyHandled
)

func (s CompletionStatus) String() string {
	if s == CompletionCompleted {
		return "COMPLETED"
	}
	return "ALREADY_HANDLED"
}

// TriggerFired marks an acquired trigger as executing and returns the job to
// run. Calling it again for the same fire instance is safe and returns
// FireStatusAlreadyHandled.
func (j *JobStore) TriggerFired(ctx context.Context, fireInstanceID string) (FireResult, error) {
	if err := j.hasJoined(); err != nil {
		return FireResult{}, err
	}
	result := FireResult{Status: FireStatusAlreadyHandled, FireInstanceID: fireInstanceID}
	at := j.now()

	err := j.inTriggerLock(ctx, func(tx persist.Store) error {
		result = FireResult{Status: FireStatusAlreadyHandled, FireInstanceID: fireInstanceID}

		fired, err := j.loadFired(ctx, tx, fireInstanceID)
		if persist.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if fired.State != models.FiredAcquired {
			return nil
		}
		log := j.log.WithFields(logrus.Fields{
			"FireInstanceID": fireInstanceID,
			"Trigger.Name":   fired.TriggerName,
			"Trigger.Group":  fired.TriggerGroup,
		})

		trigger, err := j.loadFiredTrigger(ctx, tx, fired)
		if err == ErrTriggerNotFound {
			log.Info("trigger was removed or replaced after acquisition")
			result.Status = FireStatusVetoed
			return j.deleteFired(ctx, tx, fired)
		}
		if err != nil {
			return err
		}

		if trigger.State != models.StateAcquired {
			log.WithField("Trigger.State", trigger.State).Info("trigger changed after acquisition")
			result.Status = FireStatusVetoed
			if trigger.State == models.StatePaused || trigger.State == models.StatePausedBlocked {
				err = j.revertTrigger(ctx, tx, trigger, fired, []models.TriggerState{trigger.State}, trigger.State)
				if err != nil && !IsStaleState(err) {
					return err
				}
			}
			return j.deleteFired(ctx, tx, fired)
		}

		job, err := j.loadJob(ctx, tx, JobKeyOfTrigger(trigger))
		if err == ErrJobNotFound {
			log.Error("job was removed after acquisition")
			result.Status = FireStatusVetoed
			if err := transitionTrigger(ctx, tx, trigger, []models.TriggerState{models.StateAcquired}, models.StateError, nil); err != nil {
				return err
			}
			return j.deleteFired(ctx, tx, fired)
		}
		if err != nil {
			return err
		}

		cal, err := j.loadTriggerCalendar(ctx, tx, trigger)
		if err != nil && err != ErrCalendarNotFound {
			return err
		}

		n, err := tx.Update(ctx, &models.FiredTrigger{}, []persist.Cond{
			persist.Eq("id", fired.ID),
			persist.Eq("state", string(models.FiredAcquired)),
		}, map[string]interface{}{
			"state":      string(models.FiredExecuting),
			"fired_time": at,
		})
		if err != nil {
			return persistenceErr("update fired trigger", err)
		}
		if n == 0 {
			return nil
		}

		err = transitionTrigger(ctx, tx, trigger, []models.TriggerState{models.StateAcquired}, models.StateExecuting, nil)
		if err != nil {
			return err
		}

		if job.ConcurrentExecutionDisallowed {
			if _, err := setJobBlocked(ctx, tx, j.cfg.SchedulerName, KeyOfJob(job), trigger.ID, true); err != nil {
				return err
			}
		}

		result = FireResult{
			Status:            FireStatusFired,
			FireInstanceID:    fireInstanceID,
			Trigger:           *trigger,
			Job:               *job,
			Calendar:          cal,
			ScheduledFireTime: fired.ScheduledTime,
			FireTime:          at,
			PrevFireTime:      models.NullToNilTime(fired.PrevFireTime),
			NextFireTime:      models.NullToNilTime(trigger.NextFireTime),
		}
		log.Trace("trigger fired")
		return nil
	})
	if err != nil {
		j.log.WithError(err).WithField("FireInstanceID", fireInstanceID).Error("failed to fire trigger")
		return FireResult{}, err
	}
	return result, nil
}

// TriggeredJobComplete applies the outcome of a job run to its trigger and
// removes the fired trigger record. Calling it again for the same fire
// instance is safe and returns CompletionAlreadyHandled.
func (j *JobStore) TriggeredJobComplete(ctx context.Context, fireInstanceID string, result JobResult) (CompletionStatus, error) {
	status := CompletionAlreadyHandled

	err := j.inTriggerLock(ctx, func(tx persist.Store) error {
		status = CompletionAlreadyHandled

		fired, err := j.loadFired(ctx, tx, fireInstanceID)
		if persist.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		log := j.log.WithFields(logrus.Fields{
			"FireInstanceID": fireInstanceID,
			"Trigger.Name":   fired.TriggerName,
			"Trigger.Group":  fired.TriggerGroup,
		})
		jobKey := NewJobKey(fired.JobName, fired.JobGroup)

		job, err := j.loadJob(ctx, tx, jobKey)
		if err != nil && err != ErrJobNotFound {
			return err
		}
		if job != nil && job.PersistJobDataAfterExecution && result.JobData != nil {
			_, err := tx.Update(ctx, &models.Job{}, []persist.Cond{persist.Eq("id", job.ID)}, map[string]interface{}{
				"job_data": result.JobData,
			})
			if err != nil {
				return persistenceErr("persist job data of "+jobKey.String(), err)
			}
		}

		trigger, err := j.loadFiredTrigger(ctx, tx, fired)
		if err != nil && err != ErrTriggerNotFound {
			return err
		}
		if trigger != nil {
			if err := j.completeTrigger(ctx, tx, trigger, fired, result.instruction()); err != nil {
				if !IsStaleState(err) {
					return err
				}
				log.WithError(err).Info("trigger changed while its job ran")
			}
		}

		if fired.ConcurrentExecutionDisallowed {
			running, err := jobHasFired(ctx, tx, j.cfg.SchedulerName, jobKey, fireInstanceID)
			if err != nil {
				return err
			}
			if !running {
				if _, err := setJobBlocked(ctx, tx, j.cfg.SchedulerName, jobKey, 0, false); err != nil {
					return err
				}
			}
		}

		if result.Err != nil && fired.RequestsRecovery {
			if err := j.insertRecoveryMarker(ctx, tx, fired, models.RecoveryJobFailed, result.Err.Error()); err != nil {
				return err
			}
		}

		if err := j.deleteFired(ctx, tx, fired); err != nil {
			return err
		}
		status = CompletionCompleted

		if result.Err != nil {
			log.WithError(result.Err).Warn("job finished with an error")
		} else {
			log.Trace("job completed")
		}
		return nil
	})
	if err != nil {
		j.log.WithError(err).WithField("FireInstanceID", fireInstanceID).Error("failed to complete job")
		return status, err
	}
	return status, nil
}

// completeTrigger moves the trigger on from the state its fire instance put
// it in: EXECUTING once fired, ACQUIRED when the job never started
func (j *JobStore) completeTrigger(
	ctx context.Context,
	tx persist.Store,
	trigger *models.Trigger,
	fired *models.FiredTrigger,
	instruction CompletionInstruction,
) error {
	running := []models.TriggerState{models.StateExecuting}
	if fired.State == models.FiredAcquired {
		running = []models.TriggerState{models.StateAcquired}
	}

	switch instruction {
	case CompletionDeleteTrigger:
		if _, err := tx.Delete(ctx, &models.Trigger{}, []persist.Cond{persist.Eq("id", trigger.ID)}); err != nil {
			return persistenceErr("delete trigger "+KeyOfTrigger(trigger).String(), err)
		}
		_, err := j.removeJobIfOrphaned(ctx, tx, JobKeyOfTrigger(trigger))
		return err

	case CompletionSetTriggerError:
		return transitionTrigger(ctx, tx, trigger, running, models.StateError, nil)

	case CompletionSetTriggerComplete:
		return transitionTrigger(ctx, tx, trigger, running, models.StateComplete, map[string]interface{}{
			"next_fire_time": models.NullTime(time.Time{}, false),
		})
	}

	if trigger.NextFireTime.Valid {
		return transitionTrigger(ctx, tx, trigger, running, models.StateWaiting, nil)
	}
	return transitionTrigger(ctx, tx, trigger, running, models.StateComplete, nil)
}
