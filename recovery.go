package jobstore

import (
	"context"
	"time"

	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/jobstore/persist"
	"github.com/sirupsen/logrus"
)

// Checkin writes this instance's heartbeat
func (j *JobStore) Checkin(ctx context.Context) error {
	err := j.withStateLock(ctx, func() error {
		return j.writeCheckin(ctx, j.now())
	})
	return j.track(err)
}

// RecoverCluster writes this instance's heartbeat, then finds instances that
// stopped checking in and recovers the triggers they were firing. It returns
// the ids of the recovered instances. Every instance may run it at any time.
func (j *JobStore) RecoverCluster(ctx context.Context) ([]string, error) {
	return j.checkin(ctx, false)
}

// checkin is one heartbeat and recovery pass. The first pass after Up also
// recovers fired triggers left under this instance's own id.
func (j *JobStore) checkin(ctx context.Context, first bool) ([]string, error) {
	var recovered []string

	if first {
		if _, err := j.locks.ReleaseAllFor(ctx, j.cfg.InstanceID); err != nil {
			return nil, j.track(err)
		}
	}

	err := j.withStateLock(ctx, func() error {
		recovered = nil
		at := j.now()

		if err := j.writeCheckin(ctx, at); err != nil {
			return err
		}
		if _, err := j.locks.ReclaimExpired(ctx, models.LockTriggerAccess, at); err != nil {
			return err
		}

		dead, err := j.findDeadInstances(ctx, at, first)
		if err != nil || len(dead) == 0 {
			return err
		}

		for _, id := range dead {
			if id == j.cfg.InstanceID {
				continue
			}
			if _, err := j.locks.ReleaseAllFor(ctx, id); err != nil {
				return err
			}
		}

		return j.locks.WithLock(ctx, models.LockTriggerAccess, func() error {
			for _, id := range dead {
				n, err := j.recoverInstance(ctx, id)
				if err != nil {
					return err
				}
				j.addStats(0, 0, n)
				recovered = append(recovered, id)
			}
			return nil
		})
	})
	if err != nil {
		return nil, j.track(err)
	}
	j.track(nil)
	return recovered, nil
}

// withStateLock runs fn while holding STATE_ACCESS. A STATE_ACCESS lock
// older than the lock timeout is reclaimed once before giving up.
func (j *JobStore) withStateLock(ctx context.Context, fn func() error) error {
	err := j.locks.Acquire(ctx, models.LockStateAccess)
	if IsLockTimeout(err) {
		reclaimed, rErr := j.locks.ReclaimExpired(ctx, models.LockStateAccess, j.now())
		if rErr != nil {
			return rErr
		}
		if !reclaimed {
			return err
		}
		err = j.locks.Acquire(ctx, models.LockStateAccess)
	}
	if err != nil {
		return err
	}
	defer func() {
		if relErr := j.locks.Release(models.LockStateAccess); relErr != nil {
			j.log.WithError(relErr).Error("failed to release state lock")
		}
	}()
	return fn()
}

func (j *JobStore) writeCheckin(ctx context.Context, at time.Time) error {
	stats := j.Stats()
	values := map[string]interface{}{
		"hostname":           j.hostname,
		"last_checkin_time":  at,
		"checkin_interval":   j.cfg.CheckinInterval,
		"triggers_fired":     stats.TriggersFired,
		"triggers_misfired":  stats.TriggersMisfired,
		"triggers_recovered": stats.TriggersRecovered,
	}
	n, err := j.store.Update(ctx, &models.SchedulerState{}, j.whereScheduler(
		persist.Eq("instance_id", j.cfg.InstanceID),
	), values)
	if err != nil {
		return persistenceErr("checkin", err)
	}
	if n > 0 {
		j.log.Trace("checked in")
		return nil
	}

	startedAt := j.startedAt
	if startedAt.IsZero() {
		startedAt = at
	}
	err = j.store.Insert(ctx, &models.SchedulerState{
		SchedulerName:     j.cfg.SchedulerName,
		InstanceID:        j.cfg.InstanceID,
		Hostname:          j.hostname,
		LastCheckinTime:   at,
		CheckinInterval:   j.cfg.CheckinInterval,
		StartedAt:         startedAt,
		TriggersFired:     stats.TriggersFired,
		TriggersMisfired:  stats.TriggersMisfired,
		TriggersRecovered: stats.TriggersRecovered,
	})
	if err != nil {
		return persistenceErr("first checkin", err)
	}
	j.log.Debug("joined the cluster")
	return nil
}

// findDeadInstances returns the instances whose heartbeat is overdue and the
// instances that own fired triggers without having a scheduler state
func (j *JobStore) findDeadInstances(ctx context.Context, at time.Time, includeSelf bool) ([]string, error) {
	instances := []models.SchedulerState{}
	if err := j.store.Find(ctx, &instances, persist.Query{Where: j.whereScheduler()}); err != nil {
		return nil, persistenceErr("read scheduler states", err)
	}

	dead := []string{}
	seen := map[string]bool{j.cfg.InstanceID: true}
	for _, s := range instances {
		if s.InstanceID == j.cfg.InstanceID {
			continue
		}
		seen[s.InstanceID] = true

		interval := s.CheckinInterval
		if interval <= 0 {
			interval = j.cfg.CheckinInterval
		}
		limit := time.Duration(float64(interval) * j.cfg.CheckinMisfireFactor)
		if at.Sub(s.LastCheckinTime) > limit {
			j.log.WithFields(logrus.Fields{
				"DeadInstanceID":  s.InstanceID,
				"LastCheckinTime": s.LastCheckinTime,
			}).Warn("instance stopped checking in")
			dead = append(dead, s.InstanceID)
		}
	}

	fired := []models.FiredTrigger{}
	if err := j.store.Find(ctx, &fired, persist.Query{Where: j.whereScheduler()}); err != nil {
		return nil, persistenceErr("read fired triggers", err)
	}
	self := false
	for _, f := range fired {
		if f.InstanceID == j.cfg.InstanceID {
			self = true
			continue
		}
		if !seen[f.InstanceID] {
			seen[f.InstanceID] = true
			j.log.WithField("DeadInstanceID", f.InstanceID).Warn("fired triggers owned by an unknown instance")
			dead = append(dead, f.InstanceID)
		}
	}
	if includeSelf && self {
		j.log.Info("recovering fired triggers left by a previous run of this instance")
		dead = append(dead, j.cfg.InstanceID)
	}
	return dead, nil
}

// recoverInstance settles every fired trigger of a dead instance and removes
// its scheduler state. Triggers that never reached a job go back to WAITING.
// Executing triggers go back to WAITING with a recovery marker when their job
// requests recovery and to ERROR otherwise.
func (j *JobStore) recoverInstance(ctx context.Context, instanceID string) (int, error) {
	log := j.log.WithField("DeadInstanceID", instanceID)
	count := 0

	err := j.store.Transaction(ctx, func(tx persist.Store) error {
		count = 0
		fired := []models.FiredTrigger{}
		err := tx.Find(ctx, &fired, persist.Query{
			Where: j.whereScheduler(persist.Eq("instance_id", instanceID)),
			Order: []persist.Order{persist.Asc("id")},
		})
		if err != nil {
			return persistenceErr("read fired triggers of "+instanceID, err)
		}

		for i := range fired {
			if err := j.recoverFired(ctx, tx, &fired[i]); err != nil {
				return err
			}
			count++
		}

		if instanceID != j.cfg.InstanceID {
			_, err = tx.Delete(ctx, &models.SchedulerState{}, j.whereScheduler(persist.Eq("instance_id", instanceID)))
			if err != nil {
				return persistenceErr("delete scheduler state of "+instanceID, err)
			}
		}
		return nil
	})
	if err != nil {
		log.WithError(err).Error("failed to recover instance")
		return 0, err
	}
	log.WithField("Count", count).Info("recovered fired triggers")
	return count, nil
}

func (j *JobStore) recoverFired(ctx context.Context, tx persist.Store, fired *models.FiredTrigger) error {
	log := j.log.WithFields(logrus.Fields{
		"FireInstanceID": fired.FireInstanceID,
		"Trigger.Name":   fired.TriggerName,
		"Trigger.Group":  fired.TriggerGroup,
	})
	executing := fired.State == models.FiredExecuting

	trigger, err := j.loadFiredTrigger(ctx, tx, fired)
	if err != nil && err != ErrTriggerNotFound {
		return err
	}
	if trigger != nil {
		running := []models.TriggerState{models.StateExecuting}
		switch {
		case !executing:
			err = j.revertTrigger(ctx, tx, trigger, fired, []models.TriggerState{models.StateAcquired}, models.StateWaiting)
		case fired.RequestsRecovery:
			err = j.revertTrigger(ctx, tx, trigger, fired, running, models.StateWaiting)
		default:
			log.Warn("job of a dead instance may have run, putting trigger into error")
			err = transitionTrigger(ctx, tx, trigger, running, models.StateError, nil)
		}
		if IsStaleState(err) {
			log.WithError(err).Info("recovered trigger had already changed")
		} else if err != nil {
			return err
		}
	}

	if executing && fired.RequestsRecovery {
		if err := j.insertRecoveryMarker(ctx, tx, fired, models.RecoveryInstanceDied, ""); err != nil {
			return err
		}
	}

	if fired.ConcurrentExecutionDisallowed {
		jobKey := NewJobKey(fired.JobName, fired.JobGroup)
		running, err := jobHasFired(ctx, tx, j.cfg.SchedulerName, jobKey, fired.FireInstanceID)
		if err != nil {
			return err
		}
		if !running {
			if _, err := setJobBlocked(ctx, tx, j.cfg.SchedulerName, jobKey, 0, false); err != nil {
				return err
			}
		}
	}

	return j.deleteFired(ctx, tx, fired)
}

// leaveCluster removes this instance's scheduler state when it has nothing
// left in flight. Otherwise the heartbeat just stops and recovery takes over.
func (j *JobStore) leaveCluster(ctx context.Context) error {
	err := j.withStateLock(ctx, func() error {
		n, err := j.store.Count(ctx, &models.FiredTrigger{}, j.whereScheduler(
			persist.Eq("instance_id", j.cfg.InstanceID),
		))
		if err != nil {
			return persistenceErr("count own fired triggers", err)
		}
		if n > 0 {
			j.log.WithField("Count", n).Warn("leaving with fired triggers in flight")
			return j.writeCheckin(ctx, j.now())
		}
		_, err = j.store.Delete(ctx, &models.SchedulerState{}, j.whereScheduler(
			persist.Eq("instance_id", j.cfg.InstanceID),
		))
		return persistenceErr("delete own scheduler state", err)
	})
	return j.track(err)
}

func (j *JobStore) insertRecoveryMarker(ctx context.Context, tx persist.Store, fired *models.FiredTrigger, reason models.RecoveryReason, msg string) error {
	err := tx.Insert(ctx, &models.RecoveryMarker{
		SchedulerName:  j.cfg.SchedulerName,
		FireInstanceID: fired.FireInstanceID,
		InstanceID:     fired.InstanceID,
		TriggerName:    fired.TriggerName,
		TriggerGroup:   fired.TriggerGroup,
		JobName:        fired.JobName,
		JobGroup:       fired.JobGroup,
		Reason:         reason,
		Error:          msg,
		ScheduledTime:  fired.ScheduledTime,
		CreatedAt:      j.now(),
	})
	return persistenceErr("insert recovery marker", err)
}

// RecoveryMarkers lists the recovery markers, of one job when key is not nil
func (j *JobStore) RecoveryMarkers(ctx context.Context, key *JobKey) ([]models.RecoveryMarker, error) {
	where := j.whereScheduler()
	if key != nil {
		where = append(where, persist.Eq("job_name", key.Name), persist.Eq("job_group", key.Group))
	}
	markers := []models.RecoveryMarker{}
	err := j.store.Find(ctx, &markers, persist.Query{
		Where: where,
		Order: []persist.Order{persist.Asc("id")},
	})
	if err != nil {
		return nil, j.track(persistenceErr("read recovery markers", err))
	}
	return markers, nil
}

// DeleteRecoveryMarker removes a handled recovery marker
func (j *JobStore) DeleteRecoveryMarker(ctx context.Context, id int64) (bool, error) {
	n, err := j.store.Delete(ctx, &models.RecoveryMarker{}, j.whereScheduler(persist.Eq("id", id)))
	if err != nil {
		return false, j.track(persistenceErr("delete recovery marker", err))
	}
	return n > 0, nil
}
