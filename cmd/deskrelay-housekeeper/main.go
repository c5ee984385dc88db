// deskrelay-housekeeper prunes the audit trail on a schedule so the
// table stays within the configured retention window.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/deskrelay/deskrelay/pkg/audit"
)

var (
	dbDriver        = flag.String("db-driver", getEnv("DESKRELAY_DB_DRIVER", "sqlite3"), "Database driver (sqlite3 or postgres)")
	dbDSN           = flag.String("db-dsn", getEnv("DESKRELAY_DB_DSN", "file:deskrelay.db?_busy_timeout=5000"), "Database connection string")
	retentionDays   = flag.Int("retention-days", 365, "How many days of audit entries to keep")
	cleanupSchedule = flag.String("cleanup-schedule", "30 0 * * *", "Cron schedule for audit cleanup (default: 00:30 UTC)")
	runOnce         = flag.Bool("run-once", false, "Run cleanup once and exit")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	if *retentionDays <= 0 {
		log.Fatal("retention-days must be positive")
	}

	db, err := sql.Open(*dbDriver, *dbDSN)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.WithError(err).Fatal("failed to ping database")
	}

	recorder, err := audit.NewDBRecorder(db, *dbDriver)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize audit trail")
	}
	policy := audit.RetentionPolicy{RetentionDays: *retentionDays}

	if *runOnce {
		if err := runCleanup(recorder, policy, log); err != nil {
			log.WithError(err).Fatal("cleanup failed")
		}
		return
	}

	c := cron.New()
	_, err = c.AddFunc(*cleanupSchedule, func() {
		if err := runCleanup(recorder, policy, log); err != nil {
			log.WithError(err).Error("cleanup failed")
		}
	})
	if err != nil {
		log.WithError(err).Fatal("failed to schedule cleanup")
	}

	c.Start()
	log.WithFields(logrus.Fields{
		"schedule":       *cleanupSchedule,
		"retention_days": *retentionDays,
	}).Info("deskrelay housekeeper started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cronCtx := c.Stop()
	<-cronCtx.Done()
	log.Info("deskrelay housekeeper stopped")
}

func runCleanup(recorder *audit.DBRecorder, policy audit.RetentionPolicy, log *logrus.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	deleted, err := recorder.Cleanup(ctx, policy)
	if err != nil {
		return err
	}
	log.WithField("deleted", deleted).Info("audit cleanup completed")
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
