package main

import (
	"context"
	"time"

	"github.com/BearBump/FeedbackBox/config"
	"github.com/BearBump/FeedbackBox/internal/broker/kafka"
	"github.com/BearBump/FeedbackBox/internal/broker/messages"
	"github.com/BearBump/FeedbackBox/internal/cache/rediscache"
	"github.com/BearBump/FeedbackBox/internal/services/stats"
)

type consumer interface {
	stats.Consumer
	Close() error
}

type workerFactories struct {
	newConsumer func(cfg *config.Config) consumer
	newRecorder func(cfg *config.Config) (rec stats.Recorder, closeFn func(), err error)
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newConsumer: func(cfg *config.Config) consumer {
			topic := cfg.Kafka.FeedbackSubmittedTopicName
			if topic == "" {
				topic = messages.TopicFeedbackSubmitted
			}
			group := cfg.FeedbackBox.KafkaConsumerGroup
			if group == "" {
				group = "feedback-worker"
			}
			return kafka.NewConsumer(cfg.Kafka.Brokers(), topic, group)
		},
		newRecorder: func(cfg *config.Config) (stats.Recorder, func(), error) {
			rc := rediscache.New(cfg.Redis.Addr())
			if err := rc.Ping(context.Background()); err != nil {
				_ = rc.Close()
				return nil, nil, err
			}
			return rediscache.NewCourierStats(rc.Client()), func() { _ = rc.Close() }, nil
		},
	}
}

func newProjector(cfg *config.Config, rec stats.Recorder) *stats.Projector {
	backoff := time.Duration(cfg.FeedbackBox.WorkerRetryBackoffSeconds) * time.Second
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return stats.New(rec).WithRetryBackoff(backoff)
}

// RunFeedbackWorker читает feedback.submitted и обновляет статистику курьеров,
// пока не отменят ctx.
func RunFeedbackWorker(ctx context.Context, cfg *config.Config, f workerFactories, onProjector func(*stats.Projector)) error {
	rec, closeFn, err := f.newRecorder(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	c := f.newConsumer(cfg)
	defer func() { _ = c.Close() }()

	p := newProjector(cfg, rec)
	if onProjector != nil {
		onProjector(p)
	}
	return p.Run(ctx, c)
}
