package jobstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/jobstore/persist"
)

// StoreCalendar stores a calendar. With updateTriggers the next fire time of
// every trigger that uses the calendar is moved past the newly excluded times.
func (j *JobStore) StoreCalendar(ctx context.Context, cal *models.Calendar, replace, updateTriggers bool) error {
	if cal == nil || cal.Name == "" {
		return errors.New("a calendar needs a name")
	}
	cal.SchedulerName = j.cfg.SchedulerName
	if cal.Rules.Location != "" {
		if _, err := time.LoadLocation(cal.Rules.Location); err != nil {
			return errors.Wrapf(err, "calendar %s", cal.Name)
		}
	}

	return j.inTriggerLock(ctx, func(tx persist.Store) error {
		existing, err := j.loadCalendar(ctx, tx, cal.Name)
		switch {
		case err == ErrCalendarNotFound:
			cal.ID = 0
			cal.CreatedAt = j.now()
			err = tx.Insert(ctx, cal)
			if persist.IsDuplicateKey(err) {
				return &ObjectAlreadyExistsError{Kind: "calendar", Key: cal.Name}
			}
			if err != nil {
				return persistenceErr("insert calendar "+cal.Name, err)
			}
		case err != nil:
			return err
		case !replace:
			return &ObjectAlreadyExistsError{Kind: "calendar", Key: cal.Name}
		default:
			_, err = tx.Update(ctx, &models.Calendar{}, []persist.Cond{persist.Eq("id", existing.ID)}, map[string]interface{}{
				"description": cal.Description,
				"rules":       cal.Rules,
			})
			if err != nil {
				return persistenceErr("update calendar "+cal.Name, err)
			}
			cal.ID = existing.ID
			cal.CreatedAt = existing.CreatedAt
		}

		if !updateTriggers {
			return nil
		}
		return j.applyCalendar(ctx, tx, cal)
	})
}

// applyCalendar moves the triggers using the calendar off excluded times
func (j *JobStore) applyCalendar(ctx context.Context, tx persist.Store, cal *models.Calendar) error {
	triggers := []models.Trigger{}
	err := tx.Find(ctx, &triggers, persist.Query{Where: j.whereScheduler(
		persist.Eq("calendar_name", cal.Name),
		persist.In("state", states(
			models.StateWaiting, models.StatePaused, models.StateBlocked, models.StatePausedBlocked,
		)),
		persist.NotNull("next_fire_time"),
	)})
	if err != nil {
		return persistenceErr("read triggers of calendar "+cal.Name, err)
	}

	for i := range triggers {
		trigger := &triggers[i]
		if CalendarIncludes(cal, trigger.NextFireTime.Time) {
			continue
		}
		sched, err := ScheduleFor(trigger)
		if err != nil {
			j.triggerLog(trigger).WithError(err).Warn("could not reschedule trigger for calendar")
			continue
		}
		next, ok := fireTimeAfter(sched, cal, trigger.NextFireTime.Time)
		to := trigger.State
		if !ok {
			to = models.StateComplete
		}
		err = transitionTrigger(ctx, tx, trigger, []models.TriggerState{trigger.State}, to, map[string]interface{}{
			"next_fire_time": models.NullTime(next, ok),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// RetrieveCalendar returns ErrCalendarNotFound when there is no such calendar
func (j *JobStore) RetrieveCalendar(ctx context.Context, name string) (*models.Calendar, error) {
	cal, err := j.loadCalendar(ctx, j.store, name)
	return cal, j.track(err)
}

// RemoveCalendar removes a calendar no trigger references. It reports whether
// the calendar existed.
func (j *JobStore) RemoveCalendar(ctx context.Context, name string) (bool, error) {
	removed := false
	err := j.inTriggerLock(ctx, func(tx persist.Store) error {
		removed = false
		n, err := tx.Count(ctx, &models.Trigger{}, j.whereScheduler(persist.Eq("calendar_name", name)))
		if err != nil {
			return persistenceErr("count triggers of calendar "+name, err)
		}
		if n > 0 {
			return errors.Wrapf(ErrCalendarInUse, "calendar %s is used by %d triggers", name, n)
		}
		d, err := tx.Delete(ctx, &models.Calendar{}, j.whereScheduler(persist.Eq("name", name)))
		if err != nil {
			return persistenceErr("delete calendar "+name, err)
		}
		removed = d > 0
		return nil
	})
	return removed, err
}
