package jobstore

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/jobstore/persist"
)

var (
	// ErrShutdown is returned once the store has been brought down
	ErrShutdown = errors.New("job store is shut down")

	// ErrNotStarted is returned when triggers are acquired or fired before Up
	// has checked the instance into the cluster
	ErrNotStarted = errors.New("job store is not up")

	// ErrStoreUnavailable is returned when the backing store kept failing for
	// longer than the configured ceiling. The caller should pause the instance.
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// ErrJobNotFound .
	ErrJobNotFound = errors.New("job not found")

	// ErrTriggerNotFound .
	ErrTriggerNotFound = errors.New("trigger not found")

	// ErrCalendarNotFound .
	ErrCalendarNotFound = errors.New("calendar not found")

	// ErrCalendarInUse is returned when removing a calendar a trigger references
	ErrCalendarInUse = errors.New("calendar is referenced by triggers")

	// ErrWillNeverFire is returned when storing a trigger with no fire time
	ErrWillNeverFire = errors.New("trigger will never fire")

	// ErrInvalidTrigger .
	ErrInvalidTrigger = errors.New("invalid trigger")

	// ErrInvalidJob .
	ErrInvalidJob = errors.New("invalid job")
)

// LockTimeoutError is returned when a lock could not be acquired within the
// configured number of attempts. The caller may retry.
type LockTimeoutError struct {
	LockType   models.LockType
	InstanceID string
	Attempts   int
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("could not acquire lock %s for instance %s after %d attempts", e.LockType, e.InstanceID, e.Attempts)
}

// ObjectAlreadyExistsError is returned when storing a job, trigger or calendar
// whose key is taken and replacing was not requested
type ObjectAlreadyExistsError struct {
	Kind string
	Key  string
}

func (e *ObjectAlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Kind, e.Key)
}

// JobPersistenceError wraps a failure of the backing store
type JobPersistenceError struct {
	Op        string
	Transient bool // I/O style failure rather than an integrity violation
	Fatal     bool // The store has been failing for longer than the ceiling
	Err       error
}

func (e *JobPersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap .
func (e *JobPersistenceError) Unwrap() error { return e.Err }

// Cause .
func (e *JobPersistenceError) Cause() error { return e.Err }

// Is matches ErrStoreUnavailable once the failure is fatal
func (e *JobPersistenceError) Is(target error) bool {
	return e.Fatal && target == ErrStoreUnavailable
}

// StaleStateError means a conditional update found the row already changed.
// Another instance got there first, so the operation is skipped.
type StaleStateError struct {
	Entity   string
	Key      string
	Expected string
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("%s %s is no longer %s", e.Entity, e.Key, e.Expected)
}

// IsLockTimeout .
func IsLockTimeout(err error) bool {
	var target *LockTimeoutError
	return errors.As(err, &target)
}

// IsObjectAlreadyExists .
func IsObjectAlreadyExists(err error) bool {
	var target *ObjectAlreadyExistsError
	return errors.As(err, &target)
}

// IsStaleState .
func IsStaleState(err error) bool {
	var target *StaleStateError
	return errors.As(err, &target)
}

// persistenceErr wraps a store failure unless it already is one of ours
func persistenceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *JobPersistenceError
	if errors.As(err, &pe) ||
		IsLockTimeout(err) ||
		IsObjectAlreadyExists(err) ||
		IsStaleState(err) {
		return err
	}
	for _, sentinel := range []error{
		ErrShutdown, ErrNotStarted, ErrStoreUnavailable, ErrJobNotFound, ErrTriggerNotFound,
		ErrCalendarNotFound, ErrCalendarInUse, ErrWillNeverFire, ErrInvalidTrigger, ErrInvalidJob,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return &JobPersistenceError{
		Op:        op,
		Transient: persist.IsTransient(err),
		Err:       err,
	}
}
