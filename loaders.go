package jobstore

import (
	"context"

	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/jobstore/persist"
)

func (j *JobStore) loadJob(ctx context.Context, tx persist.Store, key JobKey) (*models.Job, error) {
	job := &models.Job{}
	err := tx.First(ctx, job, j.whereScheduler(
		persist.Eq("name", key.Name),
		persist.Eq("job_group", key.Group),
	))
	if persist.IsNotFound(err) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, persistenceErr("read job "+key.String(), err)
	}
	return job, nil
}

func (j *JobStore) loadTrigger(ctx context.Context, tx persist.Store, key TriggerKey) (*models.Trigger, error) {
	trigger := &models.Trigger{}
	err := tx.First(ctx, trigger, j.whereScheduler(
		persist.Eq("name", key.Name),
		persist.Eq("trigger_group", key.Group),
	))
	if persist.IsNotFound(err) {
		return nil, ErrTriggerNotFound
	}
	if err != nil {
		return nil, persistenceErr("read trigger "+key.String(), err)
	}
	return trigger, nil
}

// loadFiredTrigger returns the trigger row a fired trigger was acquired from,
// or ErrTriggerNotFound when that row was removed or replaced since
func (j *JobStore) loadFiredTrigger(ctx context.Context, tx persist.Store, fired *models.FiredTrigger) (*models.Trigger, error) {
	trigger := &models.Trigger{}
	err := tx.First(ctx, trigger, j.whereScheduler(persist.Eq("id", fired.TriggerID)))
	if persist.IsNotFound(err) {
		return nil, ErrTriggerNotFound
	}
	if err != nil {
		return nil, persistenceErr("read trigger of "+fired.FireInstanceID, err)
	}
	return trigger, nil
}

func (j *JobStore) loadCalendar(ctx context.Context, tx persist.Store, name string) (*models.Calendar, error) {
	cal := &models.Calendar{}
	err := tx.First(ctx, cal, j.whereScheduler(persist.Eq("name", name)))
	if persist.IsNotFound(err) {
		return nil, ErrCalendarNotFound
	}
	if err != nil {
		return nil, persistenceErr("read calendar "+name, err)
	}
	return cal, nil
}

// loadTriggerCalendar returns nil when the trigger has no calendar
func (j *JobStore) loadTriggerCalendar(ctx context.Context, tx persist.Store, trigger *models.Trigger) (*models.Calendar, error) {
	if !trigger.CalendarName.Valid || trigger.CalendarName.String == "" {
		return nil, nil
	}
	return j.loadCalendar(ctx, tx, trigger.CalendarName.String)
}

func (j *JobStore) loadTriggersOfJob(ctx context.Context, tx persist.Store, key JobKey) ([]models.Trigger, error) {
	triggers := []models.Trigger{}
	err := tx.Find(ctx, &triggers, persist.Query{
		Where: j.whereScheduler(
			persist.Eq("job_name", key.Name),
			persist.Eq("job_group", key.Group),
		),
		Order: []persist.Order{persist.Asc("trigger_group"), persist.Asc("name")},
	})
	if err != nil {
		return nil, persistenceErr("read triggers of "+key.String(), err)
	}
	return triggers, nil
}

// loadFired returns persist.ErrNotFound when the fire instance is gone
func (j *JobStore) loadFired(ctx context.Context, tx persist.Store, fireInstanceID string) (*models.FiredTrigger, error) {
	fired := &models.FiredTrigger{}
	err := tx.First(ctx, fired, j.whereScheduler(persist.Eq("fire_instance_id", fireInstanceID)))
	if persist.IsNotFound(err) {
		return nil, err
	}
	if err != nil {
		return nil, persistenceErr("read fired trigger "+fireInstanceID, err)
	}
	return fired, nil
}

func (j *JobStore) deleteFired(ctx context.Context, tx persist.Store, fired *models.FiredTrigger) error {
	_, err := tx.Delete(ctx, &models.FiredTrigger{}, []persist.Cond{persist.Eq("id", fired.ID)})
	return persistenceErr("delete fired trigger "+fired.FireInstanceID, err)
}

// removeJobIfOrphaned deletes a non durable job that has no triggers left
func (j *JobStore) removeJobIfOrphaned(ctx context.Context, tx persist.Store, key JobKey) (bool, error) {
	job, err := j.loadJob(ctx, tx, key)
	if err == ErrJobNotFound {
		return false, nil
	}
	if err != nil || job.Durable {
		return false, err
	}
	n, err := tx.Count(ctx, &models.Trigger{}, j.whereScheduler(
		persist.Eq("job_name", key.Name),
		persist.Eq("job_group", key.Group),
	))
	if err != nil {
		return false, persistenceErr("count triggers of "+key.String(), err)
	}
	if n > 0 {
		return false, nil
	}
	if _, err := tx.Delete(ctx, &models.Job{}, []persist.Cond{persist.Eq("id", job.ID)}); err != nil {
		return false, persistenceErr("delete job "+key.String(), err)
	}
	return true, nil
}
