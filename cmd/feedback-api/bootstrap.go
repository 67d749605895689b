package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/FeedbackBox/config"
	feedbackapi "github.com/BearBump/FeedbackBox/internal/api/feedback_api"
	"github.com/BearBump/FeedbackBox/internal/broker/kafka"
	"github.com/BearBump/FeedbackBox/internal/cache/rediscache"
	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/BearBump/FeedbackBox/internal/services/auth"
	"github.com/BearBump/FeedbackBox/internal/services/connectivity"
	"github.com/BearBump/FeedbackBox/internal/services/feedback"
	"github.com/BearBump/FeedbackBox/internal/services/sessions"
	"github.com/BearBump/FeedbackBox/internal/storage/pgfeedback"
	"github.com/pkg/errors"
	"google.golang.org/grpc/health"
)

const devJWTSecret = "feedbackbox-dev-secret"

type feedbackAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   feedbackAPIOpts
	deps   feedbackAPIDeps

	producer *kafka.Producer
	cache    *rediscache.RedisCache
	closeDB  func()
}

func mustBootstrapFeedbackAPI() *feedbackAPIApp {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.FeedbackBox.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	grpcAddr := cfg.FeedbackBox.GRPCAddr
	if grpcAddr == "" {
		grpcAddr = ":50051"
	}
	topic := cfg.Kafka.FeedbackSubmittedTopicName
	if topic == "" {
		topic = "feedback.submitted"
	}
	courierTTL := time.Duration(cfg.FeedbackBox.CourierCacheTTLSeconds) * time.Second
	if courierTTL <= 0 {
		courierTTL = 10 * time.Minute
	}
	ratePerMin := int64(cfg.FeedbackBox.RateLimitPerMinute)
	if ratePerMin <= 0 {
		ratePerMin = 30
	}
	pingInterval := time.Duration(cfg.FeedbackBox.PingIntervalSeconds) * time.Second
	if pingInterval <= 0 {
		pingInterval = 5 * time.Second
	}
	pingTimeout := time.Duration(cfg.FeedbackBox.PingTimeoutSeconds) * time.Second
	if pingTimeout <= 0 {
		pingTimeout = 2 * time.Second
	}
	sessionTTL := time.Duration(cfg.Admin.SessionTTLSeconds) * time.Second
	if sessionTTL <= 0 {
		sessionTTL = 12 * time.Hour
	}
	deliveryTimeout := time.Duration(cfg.Offline.DeliveryTimeoutSeconds) * time.Second
	if deliveryTimeout <= 0 {
		deliveryTimeout = 10 * time.Second
	}
	maxQueue := cfg.Offline.MaxQueueSize
	if maxQueue <= 0 {
		maxQueue = 50
	}
	jwtSecret := cfg.Admin.JWTSecret
	if jwtSecret == "" {
		slog.Warn("JWT_SECRET is not set, using development secret")
		jwtSecret = devJWTSecret
	}

	st := mustOpenPostgresWithRetry(cfg.Database.ConnString(), 60*time.Second)

	rc := rediscache.New(cfg.Redis.Addr())
	producer := kafka.NewProducer(cfg.Kafka.Brokers())

	svc := feedback.New(st, rc, courierTTL).WithPublisher(topicPublisher{p: producer, topic: topic})
	authn := auth.New(st, jwtSecret, sessionTTL)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	if err := seedDefaults(ctx, cfg, authn, st); err != nil {
		cancel()
		st.Close()
		panic(err)
	}

	reg := sessions.New(svc, rc.Client()).WithSettings(maxQueue, deliveryTimeout, cfg.Offline.IsEnabled())
	monitor := connectivity.New(connectivity.ProbeFunc(st.Ping)).WithSettings(pingInterval, pingTimeout)

	api := feedbackapi.New(svc, authn).
		WithStats(rediscache.NewCourierStats(rc.Client())).
		WithSessions(reg).
		WithRateLimiter(rediscache.NewSubmitLimiter(rc.Client(), ratePerMin, time.Minute)).
		WithSecureCookie(cfg.FeedbackBox.SecureCookie)

	return &feedbackAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: feedbackAPIOpts{
			httpAddr:    httpAddr,
			grpcAddr:    grpcAddr,
			swaggerPath: swaggerPath,
		},
		deps: feedbackAPIDeps{
			api:      api,
			monitor:  monitor,
			sessions: reg,
			health:   health.NewServer(),
		},
		producer: producer,
		cache:    rc,
		closeDB:  st.Close,
	}
}

// topicPublisher подменяет топик на тот, что задан в конфиге.
type topicPublisher struct {
	p     *kafka.Producer
	topic string
}

func (t topicPublisher) PublishJSON(ctx context.Context, _topic, key string, v any) error {
	return t.p.PublishJSON(ctx, t.topic, key, v)
}

type adminSeeder interface {
	EnsureAdmin(ctx context.Context, username, password string) error
}

type courierSeeder interface {
	GetCourier(ctx context.Context, id int64) (*models.Courier, error)
	UpsertCourier(ctx context.Context, c models.Courier) (*models.Courier, error)
}

// seedDefaults заводит админа и демо-курьера, если их ещё нет.
func seedDefaults(ctx context.Context, cfg *config.Config, admins adminSeeder, couriers courierSeeder) error {
	username := cfg.Admin.Username
	if username == "" {
		username = "admin"
	}
	password := cfg.Admin.Password
	if password == "" {
		slog.Warn("DEFAULT_ADMIN_PASSWORD is not set, using default admin password")
		password = "admin"
	}
	if err := admins.EnsureAdmin(ctx, username, password); err != nil {
		return errors.Wrap(err, "seed admin")
	}

	seed := cfg.FeedbackBox.SeedCourier
	if seed == nil {
		seed = &config.SeedCourierConfig{
			ID:          123,
			Name:        "Alex Doe",
			Phone:       "+1-800-555-0101",
			ContactLink: "https://t.me/alex_courier",
		}
	}
	if seed.ID <= 0 {
		return nil
	}
	if _, err := couriers.GetCourier(ctx, seed.ID); err == nil {
		return nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return errors.Wrap(err, "seed courier")
	}

	c := models.Courier{ID: seed.ID, Name: seed.Name, Phone: seed.Phone}
	if seed.ContactLink != "" {
		link := seed.ContactLink
		c.ContactLink = &link
	}
	if _, err := couriers.UpsertCourier(ctx, c); err != nil {
		return errors.Wrap(err, "seed courier")
	}
	slog.Info("sample courier created", "courier_id", seed.ID, "name", seed.Name)
	return nil
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgfeedback.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgfeedback.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *feedbackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.producer != nil {
		_ = a.producer.Close()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *feedbackAPIApp) Run() error {
	return runFeedbackAPI(a.ctx, a.opts, a.deps)
}
