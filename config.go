package jobstore

import (
	"io/ioutil"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/simpleframeworks/jobstore/persist/gormstore"
	yaml "go.yaml.in/yaml/v3"
)

// DefaultSchedulerName partitions the store when no name is configured
const DefaultSchedulerName = "jobstore"

// Config holds the settings of a JobStore instance
type Config struct {
	SchedulerName string `yaml:"schedulerName"`
	InstanceID    string `yaml:"instanceId"` // Generated if empty

	LockTimeout    time.Duration `yaml:"lockTimeout"`    // Age after which a held lock counts as abandoned
	LockRetries    int           `yaml:"lockRetries"`    // Attempts before LockTimeoutError
	LockRetryDelay time.Duration `yaml:"lockRetryDelay"` // Base delay between attempts, jittered

	MisfireThreshold time.Duration `yaml:"misfireThreshold"` // How late a trigger may be before it misfired

	CheckinInterval      time.Duration `yaml:"checkinInterval"`      // Time between heartbeats
	CheckinMisfireFactor float64       `yaml:"checkinMisfireFactor"` // Missed heartbeat multiple after which an instance is dead

	StoreFailureCeiling time.Duration `yaml:"storeFailureCeiling"` // How long the store may fail before it is fatal

	Migrate  bool             `yaml:"migrate"`
	Database gormstore.Config `yaml:"database"`
}

// DefaultConfig .
func DefaultConfig() Config {
	return Config{
		SchedulerName:        DefaultSchedulerName,
		LockTimeout:          time.Minute * 2,
		LockRetries:          50,
		LockRetryDelay:       time.Millisecond * 100,
		MisfireThreshold:     time.Minute,
		CheckinInterval:      time.Second * 15,
		CheckinMisfireFactor: 2,
		StoreFailureCeiling:  time.Minute * 5,
		Migrate:              true,
	}
}

// LoadConfig reads a yaml config file over the defaults
func LoadConfig(path string) (Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "could not read config %s", path)
	}
	return ParseConfig(data)
}

// ParseConfig decodes yaml over the defaults and validates the result
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "could not parse config")
	}
	return cfg, cfg.Validate()
}

// Validate .
func (c Config) Validate() error {
	if c.SchedulerName == "" {
		return errors.New("schedulerName is required")
	}
	if c.LockTimeout <= 0 {
		return errors.New("lockTimeout must be > 0")
	}
	if c.LockRetries <= 0 {
		return errors.New("lockRetries must be > 0")
	}
	if c.LockRetryDelay < 0 {
		return errors.New("lockRetryDelay must be >= 0")
	}
	if c.MisfireThreshold < 0 {
		return errors.New("misfireThreshold must be >= 0")
	}
	if c.CheckinInterval <= 0 {
		return errors.New("checkinInterval must be > 0")
	}
	if c.CheckinMisfireFactor < 1 {
		return errors.New("checkinMisfireFactor must be >= 1")
	}
	return nil
}

func (c Config) withInstanceID() Config {
	if c.InstanceID == "" {
		c.InstanceID = uuid.New().String()
	}
	return c
}

// lockConfig is the part of the config the lock manager needs
func (c Config) lockConfig() LockConfig {
	return LockConfig{
		SchedulerName: c.SchedulerName,
		InstanceID:    c.InstanceID,
		Timeout:       c.LockTimeout,
		Retries:       c.LockRetries,
		RetryDelay:    c.LockRetryDelay,
	}
}
