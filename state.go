package jobstore

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/jobstore/persist"
)

// transitions lists the states a trigger may move to from each state. A move
// to the same state rewrites the fire times without changing the state.
var transitions = map[models.TriggerState][]models.TriggerState{
	models.StateWaiting: {
		models.StateWaiting, models.StateAcquired, models.StateBlocked,
		models.StatePaused, models.StateComplete, models.StateError,
	},
	models.StateAcquired: {
		models.StateExecuting, models.StateWaiting, models.StatePaused,
		models.StateComplete, models.StateError,
	},
	models.StateExecuting: {
		models.StateWaiting, models.StateComplete, models.StateError, models.StatePaused,
	},
	models.StateBlocked: {
		models.StateBlocked, models.StateWaiting, models.StatePausedBlocked, models.StateComplete,
	},
	models.StatePaused: {
		models.StatePaused, models.StateWaiting, models.StateBlocked,
		models.StatePausedBlocked, models.StateComplete,
	},
	models.StatePausedBlocked: {
		models.StatePausedBlocked, models.StatePaused, models.StateWaiting,
		models.StateBlocked, models.StateComplete,
	},
	models.StateError: {
		models.StateWaiting, models.StateBlocked, models.StatePaused, models.StateComplete,
	},
	models.StateComplete: {},
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to models.TriggerState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// pausedState is the state a pause moves the trigger to
func pausedState(from models.TriggerState) (models.TriggerState, bool) {
	switch from {
	case models.StateBlocked:
		return models.StatePausedBlocked, true
	case models.StatePaused, models.StatePausedBlocked, models.StateComplete:
		return from, false
	}
	return models.StatePaused, true
}

func states(ss ...models.TriggerState) []string {
	rtn := make([]string, len(ss))
	for i, s := range ss {
		rtn[i] = string(s)
	}
	return rtn
}

// transitionTrigger moves a trigger out of one of the expected states with a
// conditional update. Zero matched rows is a StaleStateError. Moves the
// transition table does not allow are refused before touching the store.
func transitionTrigger(
	ctx context.Context,
	tx persist.Store,
	trigger *models.Trigger,
	from []models.TriggerState,
	to models.TriggerState,
	values map[string]interface{},
) error {
	if len(from) == 0 {
		return errors.Errorf("no expected state for trigger %s", KeyOfTrigger(trigger))
	}
	for _, f := range from {
		if !CanTransition(f, to) {
			return errors.Errorf("illegal transition of trigger %s from %s to %s", KeyOfTrigger(trigger), f, to)
		}
	}
	if values == nil {
		values = map[string]interface{}{}
	}
	values["state"] = string(to)

	where := []persist.Cond{persist.Eq("id", trigger.ID)}
	if len(from) == 1 {
		where = append(where, persist.Eq("state", string(from[0])))
	} else {
		where = append(where, persist.In("state", states(from...)))
	}

	n, err := tx.Update(ctx, &models.Trigger{}, where, values)
	if err != nil {
		return persistenceErr("update trigger "+KeyOfTrigger(trigger).String(), err)
	}
	if n == 0 {
		expected := ""
		for i, s := range from {
			if i > 0 {
				expected += "|"
			}
			expected += string(s)
		}
		return &StaleStateError{
			Entity:   "trigger",
			Key:      KeyOfTrigger(trigger).String() + "#" + strconv.FormatInt(trigger.ID, 10),
			Expected: expected,
		}
	}
	trigger.State = to
	return nil
}

// jobHasFired reports whether any fired trigger row exists for the job,
// optionally ignoring one fire instance
func jobHasFired(ctx context.Context, tx persist.Store, scheduler string, key JobKey, except string) (bool, error) {
	where := []persist.Cond{
		persist.Eq("scheduler_name", scheduler),
		persist.Eq("job_name", key.Name),
		persist.Eq("job_group", key.Group),
	}
	if except != "" {
		where = append(where, persist.Ne("fire_instance_id", except))
	}
	n, err := tx.Count(ctx, &models.FiredTrigger{}, where)
	if err != nil {
		return false, persistenceErr("count fired triggers of "+key.String(), err)
	}
	return n > 0, nil
}

// setJobBlocked moves the job's other triggers between their blocked and
// unblocked states
func setJobBlocked(ctx context.Context, tx persist.Store, scheduler string, key JobKey, exceptTrigger int64, blocked bool) (int64, error) {
	pairs := [][2]models.TriggerState{
		{models.StateWaiting, models.StateBlocked},
		{models.StatePaused, models.StatePausedBlocked},
	}
	var total int64
	for _, p := range pairs {
		from, to := p[0], p[1]
		if !blocked {
			from, to = to, from
		}
		if !CanTransition(from, to) {
			return total, errors.Errorf("illegal transition of triggers of %s from %s to %s", key, from, to)
		}
		where := []persist.Cond{
			persist.Eq("scheduler_name", scheduler),
			persist.Eq("job_name", key.Name),
			persist.Eq("job_group", key.Group),
			persist.Eq("state", string(from)),
		}
		if exceptTrigger != 0 {
			where = append(where, persist.Ne("id", exceptTrigger))
		}
		n, err := tx.Update(ctx, &models.Trigger{}, where, map[string]interface{}{"state": string(to)})
		if err != nil {
			return total, persistenceErr("update triggers of "+key.String(), err)
		}
		total += n
	}
	return total, nil
}
