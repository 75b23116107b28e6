package jobstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/jobstore/persist/gormstore"
	"github.com/simpleframeworks/logc"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"syreclabs.com/go/faker"
)

// testCluster is a set of job store instances sharing one database
type testCluster struct {
	db     *gorm.DB
	logger logc.Logger
	nodes  []*JobStore
}

// testSetup for testing
func testSetup(logLvl logrus.Level) *JobStore {
	return testSetupCluster(logLvl, 1).nodes[0]
}

// testSetupCluster creates n instances on a fresh database and brings them up
func testSetupCluster(logLvl logrus.Level, n int) *testCluster {
	logger := testSetupLogging(logLvl)
	db := testSetupDB(logger)

	c := &testCluster{db: db, logger: logger}
	store := gormstore.New(db)
	testPanicErr(store.Migrate(context.Background(), models.All()...))

	for i := 0; i < n; i++ {
		c.up(testNode(db, logger, ""))
	}
	return c
}

// up brings an instance up and tears it down with the cluster
func (c *testCluster) up(j *JobStore) *JobStore {
	testPanicErr(j.Up())
	c.nodes = append(c.nodes, j)
	return j
}

// testNode creates an instance that is not up yet
func testNode(db *gorm.DB, logger logc.Logger, instanceID string) *JobStore {
	cfg := testConfig()
	cfg.InstanceID = instanceID
	// DB migrations are done once by the cluster setup
	cfg.Migrate = false
	return New(gormstore.New(db), cfg).Logger(logger)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.LockRetries = 2000
	cfg.LockRetryDelay = time.Millisecond
	cfg.CheckinInterval = time.Hour
	return cfg
}

// testTeardown closes the database of a single instance setup
func testTeardown(j *JobStore) {
	testPanicErr(j.Down())
	db := j.Store().(*gormstore.Store).DB()
	testCloseDB(db)
}

func (c *testCluster) teardown() {
	for _, n := range c.nodes {
		testPanicErr(n.Down())
	}
	testCloseDB(c.db)
}

func dbToUse() string {
	return strings.ToLower(strings.TrimSpace(os.Getenv("JOBSTORE_DB")))
}

// testSetupDB .
func testSetupDB(logger logc.Logger) *gorm.DB {
	cfg := gormstore.Config{Driver: dbToUse()}

	switch cfg.Driver {
	case gormstore.DriverPostgres:
		cfg.DSN = fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
			os.Getenv("JOBSTORE_PG_HOST"), os.Getenv("JOBSTORE_PG_USER"), os.Getenv("JOBSTORE_PG_PASSWORD"),
			os.Getenv("JOBSTORE_PG_DB"), os.Getenv("JOBSTORE_PG_PORT"),
		)
	case gormstore.DriverMySQL:
		cfg.DSN = fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true",
			os.Getenv("JOBSTORE_MY_USER"), os.Getenv("JOBSTORE_MY_PASSWORD"),
			os.Getenv("JOBSTORE_MY_HOST"), os.Getenv("JOBSTORE_MY_PORT"), os.Getenv("JOBSTORE_MY_DB"),
		)
	case gormstore.DriverSQLServer:
		cfg.DSN = os.Getenv("JOBSTORE_MS_DSN")
	default:
		cfg.Driver = gormstore.DriverSQLite
	}

	db, err := gormstore.Open(cfg, logger)
	testPanicErr(err)
	return db
}

// testCloseDB .
func testCloseDB(db *gorm.DB) {
	con, err := db.DB()
	testPanicErr(err)

	con.Close()
}

// testPanicErr .
func testPanicErr(err error) {
	if err != nil {
		panic(err)
	}
}

// testSetupLogging .
func testSetupLogging(level logrus.Level) logc.Logger {
	log := logrus.New()
	log.SetLevel(level)
	return logc.NewLogrus(log)
}

// testJob is a durable job with a generated name
func testJob() *models.Job {
	return &models.Job{
		Name:     faker.Lorem().Word() + "-" + uuid.New().String()[:8],
		JobGroup: faker.Lorem().Word(),
		JobType:  "test",
		Durable:  true,
	}
}

// testTrigger is a simple trigger for job that first fires at start
func testTrigger(job *models.Job, start time.Time, interval time.Duration, count int) *models.Trigger {
	return &models.Trigger{
		Name:           faker.Lorem().Word() + "-" + uuid.New().String()[:8],
		TriggerGroup:   faker.Lorem().Word(),
		JobName:        job.Name,
		JobGroup:       job.JobGroup,
		StartTime:      start,
		ScheduleType:   models.ScheduleSimple,
		RepeatInterval: interval,
		RepeatCount:    count,
	}
}

func testStoreJobAndTrigger(j *JobStore, job *models.Job, trigger *models.Trigger) {
	testPanicErr(j.StoreJobAndTrigger(context.Background(), job, trigger, false))
}

func testMs(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
