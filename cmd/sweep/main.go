// Команда sweep выполняет один проход Resolution Sweep и завершается.
// Предназначена для запуска по расписанию (cron, Kubernetes CronJob).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/shenikar/crowd_report_trust/internal/app"
	"github.com/shenikar/crowd_report_trust/internal/config"
	"github.com/shenikar/crowd_report_trust/pkg/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := logger.New(cfg.LogLevel)
	entry := logger.WithComponent(log, "sweep")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Миграции применяет основной сервис
	application, err := app.New(ctx, cfg, log, false)
	if err != nil {
		entry.Fatalf("Failed to initialize application: %v", err)
	}

	res, err := application.Service.RunResolutionSweep(ctx)
	application.Close()
	if err != nil {
		entry.WithError(err).Error("Resolution sweep failed")
		os.Exit(1)
	}

	entry.WithFields(logrus.Fields{
		"scanned":  res.Scanned,
		"resolved": res.Resolved,
		"skipped":  res.Skipped,
		"failed":   res.Failed,
	}).Info("Resolution sweep finished")
	if res.Failed > 0 {
		os.Exit(2)
	}
}
