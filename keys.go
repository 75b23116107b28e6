package jobstore

import (
	"github.com/simpleframeworks/jobstore/models"
)

// DefaultGroup is used when a job or trigger is stored without a group
const DefaultGroup = "DEFAULT"

// JobKey identifies a job within a scheduler
type JobKey struct {
	Name  string
	Group string
}

// NewJobKey .
func NewJobKey(name, group string) JobKey {
	if group == "" {
		group = DefaultGroup
	}
	return JobKey{Name: name, Group: group}
}

func (k JobKey) String() string {
	return k.Group + "." + k.Name
}

// TriggerKey identifies a trigger within a scheduler
type TriggerKey struct {
	Name  string
	Group string
}

// NewTriggerKey .
func NewTriggerKey(name, group string) TriggerKey {
	if group == "" {
		group = DefaultGroup
	}
	return TriggerKey{Name: name, Group: group}
}

func (k TriggerKey) String() string {
	return k.Group + "." + k.Name
}

// KeyOfJob .
func KeyOfJob(job *models.Job) JobKey {
	return NewJobKey(job.Name, job.JobGroup)
}

// KeyOfTrigger .
func KeyOfTrigger(trigger *models.Trigger) TriggerKey {
	return NewTriggerKey(trigger.Name, trigger.TriggerGroup)
}

// JobKeyOfTrigger is the key of the job the trigger fires
func JobKeyOfTrigger(trigger *models.Trigger) JobKey {
	return NewJobKey(trigger.JobName, trigger.JobGroup)
}
