package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/quickbite/platform/internal/config"
	"github.com/quickbite/platform/internal/events"
	"github.com/quickbite/platform/internal/mail"
	"github.com/quickbite/platform/internal/notify"
	"github.com/quickbite/platform/internal/store"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	recordStore, err := store.NewPostgres(db, cfg.DatabaseURL, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize record store")
	}
	go recordStore.Run(ctx)

	var sender mail.Sender
	if cfg.SMTPAddr != "" {
		sender = mail.NewSMTPSender(cfg.SMTPAddr, cfg.MailFrom)
	} else {
		logger.Warn("No SMTP address configured, using log transport")
		sender = mail.NewLogSender(logger)
	}
	sender = mail.NewGuardedSender(sender, mail.NewBreaker(mail.BreakerConfig{
		MaxFailures: 5,
		Timeout:     time.Minute,
		MaxRequests: 2,
	}, logger))

	dispatcher := notify.NewDispatcher(recordStore, sender, logger)

	consumer, err := events.NewKafkaConsumer(cfg.KafkaBrokers, "notification-worker-group", dispatcher, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Close()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Consumer stopped with error")
		}
	}()

	logger.Info("Notification worker started")

	// Wait for interrupt
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down notification worker...")
	cancel()
}
