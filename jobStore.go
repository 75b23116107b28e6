package jobstore

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/jobstore/persist"
	"github.com/simpleframeworks/jobstore/persist/gormstore"
	"github.com/simpleframeworks/logc"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Stats counts what an instance did since it came up. They are written to the
// instance's scheduler state row on every checkin.
type Stats struct {
	TriggersFired     int
	TriggersMisfired  int
	TriggersRecovered int
}

// JobStore is the clustered job store. Every instance sharing a database and
// scheduler name coordinates through that database only.
type JobStore struct {
	cfg      Config
	store    persist.Store
	locks    *LockManager
	log      logc.Logger
	baseLog  logc.Logger
	now      func() time.Time
	hostname string
	onFatal  func(error)

	mx         sync.Mutex
	started    bool
	joined     bool // checked into the cluster by Up
	shutdown   bool
	startedAt  time.Time
	stats      Stats
	acquiring  sync.WaitGroup
	checkinCtx context.Context
	checkinEnd context.CancelFunc
	checkinWg  sync.WaitGroup

	failMx       sync.Mutex
	failingSince time.Time
	fatalFired   bool
}

// New creates a job store on top of a persistence backend
func New(store persist.Store, cfg Config) *JobStore {
	hostname, _ := os.Hostname()

	rtn := &JobStore{
		cfg:      cfg.withInstanceID(),
		store:    store,
		now:      now,
		hostname: hostname,
	}
	rtn.Logger(logc.NewLogrus(logrus.New()))

	return rtn
}

// NewGorm creates a job store with default settings on a gorm connection
func NewGorm(db *gorm.DB) *JobStore {
	return New(gormstore.New(db), DefaultConfig())
}

// Open connects to the configured database and creates a job store on it
func Open(cfg Config, logger logc.Logger) (*JobStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := gormstore.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	return New(gormstore.New(db), cfg).Logger(logger), nil
}

// Up checks the instance in, recovers what dead instances and a previous run
// of this instance left behind and starts the heartbeat loop
func (j *JobStore) Up() error {
	j.mx.Lock()
	if j.started {
		j.mx.Unlock()
		j.log.Warn("the job store is already up")
		return nil
	}
	if err := j.cfg.Validate(); err != nil {
		j.mx.Unlock()
		return err
	}
	j.started = true
	j.shutdown = false
	j.startedAt = j.now()
	j.mx.Unlock()

	j.log.Debug("bringing up the job store - started")

	ctx := context.Background()
	if j.cfg.Migrate {
		if err := j.store.Migrate(ctx, models.All()...); err != nil {
			j.setStopped()
			return persistenceErr("migrate", err)
		}
	}

	if _, err := j.checkin(ctx, true); err != nil {
		j.setStopped()
		return err
	}
	j.mx.Lock()
	j.joined = true
	j.mx.Unlock()

	j.checkinCtx, j.checkinEnd = context.WithCancel(context.Background())
	j.checkinWg.Add(1)
	go j.checkinLoop()

	j.log.Debug("bringing up the job store - completed")
	return nil
}

// Down stops the heartbeat loop and waits for running acquisition batches.
// AcquireNextTriggers returns ErrShutdown afterwards. Completions are still
// accepted so jobs that are running can finish cleanly.
func (j *JobStore) Down() error {
	j.mx.Lock()
	if !j.started || j.shutdown {
		j.mx.Unlock()
		return nil
	}
	j.shutdown = true
	j.mx.Unlock()

	j.log.Debug("shutting down the job store - started")

	j.checkinEnd()
	j.checkinWg.Wait()
	j.acquiring.Wait()

	err := j.leaveCluster(context.Background())

	j.setStopped()
	j.log.Debug("shutting down the job store - completed")
	return err
}

func (j *JobStore) setStopped() {
	j.mx.Lock()
	j.started = false
	j.mx.Unlock()
}

func (j *JobStore) checkinLoop() {
	defer j.checkinWg.Done()
	for {
		select {
		case <-j.checkinCtx.Done():
			j.log.Trace("shutdown checkin loop")
			return
		case <-time.After(j.cfg.CheckinInterval):
		}

		if _, err := j.checkin(j.checkinCtx, false); err != nil && !errors.Is(err, context.Canceled) {
			j.log.WithError(err).Warn("cluster checkin failed")
		}
	}
}

// enterAcquire registers an acquisition batch unless the store is shut down
// or was never brought up
func (j *JobStore) enterAcquire() error {
	j.mx.Lock()
	defer j.mx.Unlock()
	if j.shutdown {
		return ErrShutdown
	}
	if !j.joined {
		return ErrNotStarted
	}
	j.acquiring.Add(1)
	return nil
}

// hasJoined fails with ErrNotStarted until Up has checked the instance in.
// Peers treat fired triggers of an instance without a heartbeat as orphans.
func (j *JobStore) hasJoined() error {
	j.mx.Lock()
	defer j.mx.Unlock()
	if !j.joined {
		return ErrNotStarted
	}
	return nil
}

// track records store health at the API boundary. Once the store has kept
// failing for longer than the ceiling the error is marked fatal and OnFatal
// is called a single time. A cancelled or expired context says nothing about
// the store, so it neither counts as a failure nor ends a failing period.
func (j *JobStore) track(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pe *JobPersistenceError
	if err == nil || !errors.As(err, &pe) || !pe.Transient {
		j.failMx.Lock()
		j.failingSince = time.Time{}
		j.fatalFired = false
		j.failMx.Unlock()
		return err
	}

	at := j.now()
	j.failMx.Lock()
	if j.failingSince.IsZero() {
		j.failingSince = at
	}
	fatal := j.cfg.StoreFailureCeiling > 0 && at.Sub(j.failingSince) >= j.cfg.StoreFailureCeiling
	notify := fatal && !j.fatalFired
	if notify {
		j.fatalFired = true
	}
	j.failMx.Unlock()

	if !fatal {
		return err
	}
	pe.Fatal = true
	if notify {
		j.log.WithError(err).Error("the backing store has been failing beyond the ceiling")
		if j.onFatal != nil {
			j.onFatal(pe)
		}
	}
	return pe
}

func (j *JobStore) addStats(fired, misfired, recovered int) {
	j.mx.Lock()
	j.stats.TriggersFired += fired
	j.stats.TriggersMisfired += misfired
	j.stats.TriggersRecovered += recovered
	j.mx.Unlock()
}

// Stats returns the counters of this instance
func (j *JobStore) Stats() Stats {
	j.mx.Lock()
	defer j.mx.Unlock()
	return j.stats
}

// InstanceID returns the id this instance uses in the cluster
func (j *JobStore) InstanceID() string {
	return j.cfg.InstanceID
}

// Config returns the settings in use
func (j *JobStore) Config() Config {
	return j.cfg
}

// Store returns the persistence backend
func (j *JobStore) Store() persist.Store {
	return j.store
}

// whereScheduler scopes conditions to this scheduler
func (j *JobStore) whereScheduler(conds ...persist.Cond) []persist.Cond {
	return append([]persist.Cond{persist.Eq("scheduler_name", j.cfg.SchedulerName)}, conds...)
}

// inTriggerLock runs fn in a transaction while holding TRIGGER_ACCESS
func (j *JobStore) inTriggerLock(ctx context.Context, fn func(tx persist.Store) error) error {
	err := j.locks.WithLock(ctx, models.LockTriggerAccess, func() error {
		return j.store.Transaction(ctx, fn)
	})
	return j.track(err)
}

func (j *JobStore) configure(fn func(c *Config)) *JobStore {
	j.mx.Lock()
	defer j.mx.Unlock()
	if !j.started {
		fn(&j.cfg)
		j.rebuild()
	}
	return j
}

func (j *JobStore) rebuild() {
	j.log = j.baseLog.WithFields(logrus.Fields{
		"Service":       "JobStore",
		"SchedulerName": j.cfg.SchedulerName,
		"InstanceID":    j.cfg.InstanceID,
	})
	j.locks = NewLockManager(j.store, j.cfg.lockConfig(), j.baseLog)
	j.locks.now = j.now
}

// Logger sets the logger
func (j *JobStore) Logger(logger logc.Logger) *JobStore {
	j.mx.Lock()
	defer j.mx.Unlock()
	if !j.started {
		j.baseLog = logger
		j.rebuild()
	}
	return j
}

// SchedulerName sets the name that partitions the store between schedulers
func (j *JobStore) SchedulerName(name string) *JobStore {
	return j.configure(func(c *Config) { c.SchedulerName = name })
}

// InstanceIdentity sets a fixed instance id. Restarting with the same id lets
// the instance recover what it left behind.
func (j *JobStore) InstanceIdentity(id string) *JobStore {
	return j.configure(func(c *Config) { c.InstanceID = id })
}

// LockTimeout sets the age after which a held lock counts as abandoned
func (j *JobStore) LockTimeout(timeout time.Duration) *JobStore {
	return j.configure(func(c *Config) { c.LockTimeout = timeout })
}

// LockRetries sets the lock attempts before a LockTimeoutError
func (j *JobStore) LockRetries(retries int, delay time.Duration) *JobStore {
	return j.configure(func(c *Config) {
		c.LockRetries = retries
		c.LockRetryDelay = delay
	})
}

// MisfireThreshold sets how late a trigger may be before it misfired
func (j *JobStore) MisfireThreshold(threshold time.Duration) *JobStore {
	return j.configure(func(c *Config) { c.MisfireThreshold = threshold })
}

// CheckinInterval sets the heartbeat interval and the missed heartbeat
// multiple after which an instance counts as dead
func (j *JobStore) CheckinInterval(interval time.Duration, factor float64) *JobStore {
	return j.configure(func(c *Config) {
		c.CheckinInterval = interval
		c.CheckinMisfireFactor = factor
	})
}

// StoreFailureCeiling sets how long the store may fail before it is fatal
func (j *JobStore) StoreFailureCeiling(ceiling time.Duration) *JobStore {
	return j.configure(func(c *Config) { c.StoreFailureCeiling = ceiling })
}

// Migration turns schema migration on Up on or off
func (j *JobStore) Migration(migrate bool) *JobStore {
	return j.configure(func(c *Config) { c.Migrate = migrate })
}

// OnFatal sets the callback invoked once the store has been failing for
// longer than the failure ceiling
func (j *JobStore) OnFatal(fn func(error)) *JobStore {
	j.mx.Lock()
	defer j.mx.Unlock()
	j.onFatal = fn
	return j
}

// Clock replaces the time source. Used by tests.
func (j *JobStore) Clock(fn func() time.Time) *JobStore {
	return j.configure(func(c *Config) {
		j.now = func() time.Time { return fn().UTC().Truncate(time.Millisecond) }
	})
}
