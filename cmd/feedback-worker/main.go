package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/BearBump/FeedbackBox/config"
	"github.com/BearBump/FeedbackBox/internal/services/stats"
	"github.com/pkg/errors"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var projector atomic.Pointer[stats.Projector]

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.FeedbackBox.WorkerHTTPAddr,
			swaggerPath: os.Getenv("swaggerPath"),
			projector:   &projector,
			cfg:         cfg,
		})
	}()

	workerErr := make(chan error, 1)
	go func() {
		slog.Info("feedback worker started",
			"topic", cfg.Kafka.FeedbackSubmittedTopicName, "group", cfg.FeedbackBox.KafkaConsumerGroup)
		workerErr <- RunFeedbackWorker(ctx, cfg, defaultWorkerFactories(), projector.Store)
	}()

	select {
	case err = <-workerErr:
	case err = <-httpErr:
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}
}
