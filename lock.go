package jobstore

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/jobstore/persist"
	"github.com/simpleframeworks/logc"
	"github.com/sirupsen/logrus"
)

// LockConfig configures a LockManager
type LockConfig struct {
	SchedulerName string
	InstanceID    string
	Timeout       time.Duration // Age after which a held lock counts as abandoned
	Retries       int           // Attempts before giving up with LockTimeoutError
	RetryDelay    time.Duration // Base delay between attempts
}

// LockManager acquires and releases the advisory locks of one instance. A
// lock is a row unique on (scheduler name, lock type); inserting the row
// takes the lock and deleting it releases it.
type LockManager struct {
	store persist.Store
	cfg   LockConfig
	log   logc.Logger
	now   func() time.Time

	rndMx sync.Mutex
	rnd   *rand.Rand
}

// NewLockManager .
func NewLockManager(store persist.Store, cfg LockConfig, logger logc.Logger) *LockManager {
	return &LockManager{
		store: store,
		cfg:   cfg,
		log: logger.WithFields(logrus.Fields{
			"Service":    "LockManager",
			"InstanceID": cfg.InstanceID,
		}),
		now: now,
		rnd: newRand(),
	}
}

// TryAcquire makes a single attempt at taking the lock
func (l *LockManager) TryAcquire(ctx context.Context, lockType models.LockType) (bool, error) {
	lock := &models.Lock{
		SchedulerName: l.cfg.SchedulerName,
		LockType:      lockType,
		InstanceID:    l.cfg.InstanceID,
		AcquiredAt:    l.now(),
	}
	err := l.store.Insert(ctx, lock)
	if persist.IsDuplicateKey(err) {
		return false, nil
	}
	if err != nil {
		return false, persistenceErr("acquire lock "+string(lockType), err)
	}
	return true, nil
}

// Acquire takes the lock, retrying with jittered backoff while another
// instance holds it. It gives up with a LockTimeoutError after the configured
// number of attempts.
func (l *LockManager) Acquire(ctx context.Context, lockType models.LockType) error {
	log := l.log.WithField("LockType", lockType)

	retries := l.cfg.Retries
	if retries <= 0 {
		retries = 1
	}
	for attempt := 1; ; attempt++ {
		held, err := l.TryAcquire(ctx, lockType)
		if err != nil {
			return err
		}
		if held {
			log.WithField("Attempts", attempt).Trace("lock acquired")
			return nil
		}
		if attempt >= retries {
			log.WithField("Attempts", attempt).Debug("gave up acquiring lock")
			return &LockTimeoutError{
				LockType:   lockType,
				InstanceID: l.cfg.InstanceID,
				Attempts:   attempt,
			}
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "lock acquisition cancelled")
		case <-time.After(l.backoff(attempt)):
		}
	}
}

// Release deletes the lock row if this instance owns it. Releasing a lock the
// instance does not hold is logged and otherwise ignored because recovery may
// have reclaimed it. Release runs on its own context so cleanup still happens
// when the caller's context is done.
func (l *LockManager) Release(lockType models.LockType) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.releaseTimeout())
	defer cancel()

	n, err := l.store.Delete(ctx, &models.Lock{}, []persist.Cond{
		persist.Eq("scheduler_name", l.cfg.SchedulerName),
		persist.Eq("lock_type", string(lockType)),
		persist.Eq("instance_id", l.cfg.InstanceID),
	})
	if err != nil {
		return persistenceErr("release lock "+string(lockType), err)
	}
	if n == 0 {
		l.log.WithField("LockType", lockType).Warn("released a lock this instance did not hold")
	} else {
		l.log.WithField("LockType", lockType).Trace("lock released")
	}
	return nil
}

// WithLock runs fn while holding the lock. The lock is released however fn returns.
func (l *LockManager) WithLock(ctx context.Context, lockType models.LockType, fn func() error) (err error) {
	if err = l.Acquire(ctx, lockType); err != nil {
		return err
	}
	defer func() {
		if relErr := l.Release(lockType); relErr != nil {
			l.log.WithError(relErr).WithField("LockType", lockType).Error("failed to release lock")
			if err == nil {
				err = relErr
			}
		}
	}()
	return fn()
}

// Holder returns the current lock row or nil when the lock is free
func (l *LockManager) Holder(ctx context.Context, lockType models.LockType) (*models.Lock, error) {
	lock := &models.Lock{}
	err := l.store.First(ctx, lock, []persist.Cond{
		persist.Eq("scheduler_name", l.cfg.SchedulerName),
		persist.Eq("lock_type", string(lockType)),
	})
	if persist.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceErr("read lock "+string(lockType), err)
	}
	return lock, nil
}

// IsExpired reports whether the lock is held and older than the lock timeout
func (l *LockManager) IsExpired(ctx context.Context, lockType models.LockType, at time.Time) (bool, error) {
	lock, err := l.Holder(ctx, lockType)
	if err != nil || lock == nil {
		return false, err
	}
	return at.Sub(lock.AcquiredAt) > l.cfg.Timeout, nil
}

// ReclaimExpired deletes the lock if it is older than the lock timeout. Only
// the recovery coordinator calls this.
func (l *LockManager) ReclaimExpired(ctx context.Context, lockType models.LockType, at time.Time) (bool, error) {
	n, err := l.store.Delete(ctx, &models.Lock{}, []persist.Cond{
		persist.Eq("scheduler_name", l.cfg.SchedulerName),
		persist.Eq("lock_type", string(lockType)),
		persist.Lt("acquired_at", at.Add(-l.cfg.Timeout)),
	})
	if err != nil {
		return false, persistenceErr("reclaim lock "+string(lockType), err)
	}
	if n > 0 {
		l.log.WithField("LockType", lockType).Warn("reclaimed an abandoned lock")
	}
	return n > 0, nil
}

// ReleaseAllFor deletes every lock held by another, dead, instance
func (l *LockManager) ReleaseAllFor(ctx context.Context, instanceID string) (int64, error) {
	n, err := l.store.Delete(ctx, &models.Lock{}, []persist.Cond{
		persist.Eq("scheduler_name", l.cfg.SchedulerName),
		persist.Eq("instance_id", instanceID),
	})
	if err != nil {
		return 0, persistenceErr("release locks of "+instanceID, err)
	}
	if n > 0 {
		l.log.WithFields(logrus.Fields{
			"DeadInstanceID": instanceID,
			"Count":          n,
		}).Warn("released locks held by a dead instance")
	}
	return n, nil
}

// backoff grows the delay exponentially up to 16 times the base and picks a
// random point in the upper half so competing instances spread out
func (l *LockManager) backoff(attempt int) time.Duration {
	if l.cfg.RetryDelay <= 0 {
		return 0
	}
	shift := attempt - 1
	if shift > 4 {
		shift = 4
	}
	d := l.cfg.RetryDelay << uint(shift)

	l.rndMx.Lock()
	jitter := time.Duration(l.rnd.Int63n(int64(d)/2 + 1))
	l.rndMx.Unlock()

	return d/2 + jitter
}

func (l *LockManager) releaseTimeout() time.Duration {
	if l.cfg.Timeout > 0 {
		return l.cfg.Timeout
	}
	return time.Minute
}

func newRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// now is the store clock. Times are kept in UTC at millisecond precision so
// they compare the same in every backend after a round trip.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
