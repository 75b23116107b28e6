package main

import (
	"context"
	"flag"
	"os"

	"github.com/simpleframeworks/jobstore"
	"github.com/simpleframeworks/jobstore/models"
	"github.com/simpleframeworks/jobstore/persist/gormstore"
	"github.com/simpleframeworks/logc"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Creates or updates the job store tables. With -clean every row is removed
// afterwards, which is how test databases are reset between runs.

func main() {
	configPath := flag.String("config", "", "yaml config file")
	driver := flag.String("driver", "", "database driver (sqlite, postgres, mysql, sqlserver)")
	dsn := flag.String("dsn", "", "database dsn")
	clean := flag.Bool("clean", false, "delete all rows after migrating")
	verbose := flag.Bool("v", false, "log sql statements")
	flag.Parse()

	level := logrus.InfoLevel
	if *verbose {
		level = logrus.TraceLevel
	}
	logger := setupLogging(level)

	cfg := jobstore.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = jobstore.LoadConfig(*configPath); err != nil {
			exit(logger, err, "could not load config")
		}
	}
	if *driver != "" {
		cfg.Database.Driver = *driver
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}

	logger.WithField("Driver", cfg.Database.Driver).Debug("connecting to db")
	db, err := gormstore.Open(cfg.Database, logger)
	if err != nil {
		exit(logger, err, "could not connect")
	}
	defer closeDB(db)

	logger.Debug("auto migrate db")
	if err := gormstore.New(db).Migrate(context.Background(), models.All()...); err != nil {
		exit(logger, err, "could not migrate")
	}

	if *clean {
		logger.Debug("cleaning up")
		tx := db.Session(&gorm.Session{AllowGlobalUpdate: true})
		for _, entity := range models.All() {
			if err := tx.Delete(entity).Error; err != nil {
				exit(logger, err, "could not clean up")
			}
		}
	}

	logger.Info("job store tables are up to date")
}

func setupLogging(level logrus.Level) logc.Logger {
	log := logrus.New()
	log.SetLevel(level)
	return logc.NewLogrus(log)
}

func closeDB(db *gorm.DB) {
	if con, err := db.DB(); err == nil {
		con.Close()
	}
}

func exit(logger logc.Logger, err error, msg string) {
	logger.WithError(err).Error(msg)
	os.Exit(1)
}
