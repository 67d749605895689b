package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BearBump/FeedbackBox/config"
	"github.com/BearBump/FeedbackBox/internal/integrations/feedbackapi"
	"github.com/BearBump/FeedbackBox/internal/models"
	"github.com/BearBump/FeedbackBox/internal/queue"
	"github.com/BearBump/FeedbackBox/internal/services/connectivity"
	"github.com/BearBump/FeedbackBox/internal/services/submission"
	"github.com/BearBump/FeedbackBox/internal/storage/replica"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	defaultAPIBaseURL = "http://localhost:8080"
	defaultQueueFile  = "feedback_queue.json"
	replicaFileName   = "feedback_replica.db"

	healthService = "feedbackbox.FeedbackStore"
)

const usage = `usage: feedback-client <submit|drain|status|watch> [flags]`

type clientOpts struct {
	configPath string

	mode            string
	apiBaseURL      string
	queueFile       string
	replicaFile     string
	probeKind       string
	probeURL        string
	probeGRPCAddr   string
	interval        time.Duration
	maxQueueSize    int
	deliveryTimeout time.Duration
	offline         bool

	orderID   string
	courierID int64
	rating    int
	comment   string
	reasons   []string
	consent   bool
}

func (o *clientOpts) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.configPath, "config", os.Getenv("configPath"), "path to YAML config")
	fs.StringVar(&o.mode, "mode", "", "app mode: traditional|sync_only|hybrid|offline_first")
	fs.StringVar(&o.apiBaseURL, "api", "", "feedback API base URL")
	fs.StringVar(&o.queueFile, "queue-file", "", "offline queue file")
	fs.StringVar(&o.replicaFile, "replica-file", "", "local SQLite replica (default: next to the queue file)")
	fs.StringVar(&o.probeKind, "probe", "", "connectivity probe: http|grpc")
	fs.StringVar(&o.probeURL, "probe-url", "", "HTTP probe URL (default <api>/readyz)")
	fs.StringVar(&o.probeGRPCAddr, "probe-grpc-addr", "", "gRPC health server address")
	fs.DurationVar(&o.interval, "interval", 0, "probe interval for watch")
	fs.IntVar(&o.maxQueueSize, "max-queue", 0, "offline queue capacity")
	fs.DurationVar(&o.deliveryTimeout, "timeout", 0, "delivery timeout")
	fs.BoolVar(&o.offline, "offline", true, "queue submissions while the store is unreachable")
}

func (o *clientOpts) addSubmitFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.orderID, "order", "", "order id")
	fs.Int64Var(&o.courierID, "courier", 0, "courier id")
	fs.IntVar(&o.rating, "rating", 0, "rating 1..5")
	fs.StringVar(&o.comment, "comment", "", "free-text comment")
	fs.StringSliceVar(&o.reasons, "reason", nil, "reason tag, repeatable")
	fs.BoolVar(&o.consent, "consent", false, "allow publishing the feedback")
}

// input собирает форму; непереданные courier/rating остаются nil, валидатор их поймает.
func (o *clientOpts) input(fs *pflag.FlagSet) models.FeedbackInput {
	in := models.FeedbackInput{
		OrderID:        o.orderID,
		Comment:        o.comment,
		Reasons:        o.reasons,
		PublishConsent: o.consent,
	}
	if fs.Changed("courier") {
		id := o.courierID
		in.CourierID = &id
	}
	if fs.Changed("rating") {
		r := o.rating
		in.Rating = &r
	}
	return in
}

// resolve накладывает флаги поверх конфига и переменных окружения.
func (o *clientOpts) resolve(fs *pflag.FlagSet) error {
	cfg := &config.Config{}
	if o.configPath != "" {
		loaded, err := config.LoadConfig(o.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return err
	}

	if !fs.Changed("mode") {
		o.mode = cfg.Client.Mode
	}
	if !fs.Changed("api") {
		o.apiBaseURL = cfg.Client.APIBaseURL
	}
	if !fs.Changed("queue-file") {
		o.queueFile = cfg.Client.QueueFile
	}
	if !fs.Changed("replica-file") {
		o.replicaFile = cfg.Client.ReplicaFile
	}
	if !fs.Changed("probe") {
		o.probeKind = cfg.Client.ProbeKind
	}
	if !fs.Changed("probe-url") {
		o.probeURL = cfg.Client.ProbeURL
	}
	if !fs.Changed("probe-grpc-addr") {
		o.probeGRPCAddr = cfg.Client.ProbeGRPCAddr
	}
	if !fs.Changed("interval") {
		o.interval = time.Duration(cfg.Client.ProbeIntervalSeconds) * time.Second
	}
	if !fs.Changed("max-queue") {
		o.maxQueueSize = cfg.Offline.MaxQueueSize
	}
	if !fs.Changed("timeout") {
		o.deliveryTimeout = time.Duration(cfg.Offline.DeliveryTimeoutSeconds) * time.Second
	}
	if !fs.Changed("offline") {
		o.offline = cfg.Offline.IsEnabled()
	}

	if o.apiBaseURL == "" {
		o.apiBaseURL = defaultAPIBaseURL
	}
	if o.queueFile == "" {
		o.queueFile = defaultQueueFile
	}
	if o.replicaFile == "" {
		o.replicaFile = filepath.Join(filepath.Dir(o.queueFile), replicaFileName)
	}
	if o.probeKind == "" {
		o.probeKind = "http"
	}
	if o.probeURL == "" {
		o.probeURL = strings.TrimRight(o.apiBaseURL, "/") + "/readyz"
	}
	if o.interval <= 0 {
		o.interval = 5 * time.Second
	}
	return nil
}

type client struct {
	mode    models.AppMode
	coord   *submission.Coordinator
	monitor *connectivity.Monitor
	closers []func() error
}

func (c *client) Close() {
	for _, fn := range c.closers {
		_ = fn()
	}
}

func newClient(ctx context.Context, o *clientOpts) (*client, error) {
	mode, err := models.ParseAppMode(o.mode)
	if err != nil {
		return nil, err
	}
	c := &client{mode: mode}

	var remote replica.FeedbackStore = feedbackapi.New(o.apiBaseURL)
	var store submission.FeedbackStore = remote
	if mode != models.AppModeTraditional {
		local, err := replica.OpenFile(o.replicaFile)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, local.Close)
		if mode == models.AppModeSyncOnly {
			store = local
		} else {
			store = replica.NewMirror(remote, local)
		}
	}

	probe, closeProbe, err := newProbe(o, mode)
	if err != nil {
		c.Close()
		return nil, err
	}
	if closeProbe != nil {
		c.closers = append(c.closers, closeProbe)
	}
	c.monitor = connectivity.New(probe).WithSettings(o.interval, 0)

	// offline_first всегда копит очередь
	queueEnabled := o.offline || mode == models.AppModeOfflineFirst
	c.coord = submission.New(store, queue.NewFileStore(o.queueFile)).
		WithSettings(o.maxQueueSize, o.deliveryTimeout).
		WithQueueEnabled(queueEnabled)
	if err := c.coord.Restore(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func newProbe(o *clientOpts, mode models.AppMode) (connectivity.Probe, func() error, error) {
	if !mode.UsesRemote() {
		// локальная реплика доступна всегда
		return connectivity.ProbeFunc(func(context.Context) error { return nil }), nil, nil
	}
	switch o.probeKind {
	case "http":
		return connectivity.NewHTTPProbe(o.probeURL, nil), nil, nil
	case "grpc":
		if o.probeGRPCAddr == "" {
			return nil, nil, errors.New("--probe-grpc-addr is required for the grpc probe")
		}
		conn, err := grpc.NewClient(o.probeGRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, errors.Wrap(err, "dial grpc health")
		}
		return connectivity.NewGRPCHealthProbe(conn, healthService), conn.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown probe %q", o.probeKind)
	}
}

// observe проверяет связь один раз и сообщает результат координатору.
func (c *client) observe(ctx context.Context) bool {
	online := c.monitor.CheckOnce(ctx)
	c.coord.SetOnline(ctx, online)
	return online
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	cmd := args[0]

	var o clientOpts
	fs := pflag.NewFlagSet("feedback-client "+cmd, pflag.ContinueOnError)
	o.addFlags(fs)
	switch cmd {
	case "submit":
		o.addSubmitFlags(fs)
	case "drain", "status", "watch":
	default:
		return fmt.Errorf("unknown command %q; %s", cmd, usage)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if err := o.resolve(fs); err != nil {
		return err
	}

	c, err := newClient(ctx, &o)
	if err != nil {
		return err
	}
	defer c.Close()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	switch cmd {
	case "submit":
		c.observe(ctx)
		res := c.coord.Submit(ctx, o.input(fs))
		if err := enc.Encode(res); err != nil {
			return err
		}
		if res.State == submission.StateFailed {
			return errors.New(res.Message)
		}
		return nil

	case "drain":
		if !c.observe(ctx) {
			slog.Warn("store unreachable, queue kept", "pending", c.coord.PendingCount())
			return enc.Encode(c.coord.Status())
		}
		return enc.Encode(c.coord.OnConnectivityRestored(ctx))

	case "status":
		return enc.Encode(map[string]any{
			"mode":    c.mode,
			"status":  c.coord.Status(),
			"pending": c.coord.Pending(),
		})

	case "watch":
		sig := c.monitor.Subscribe()
		go func() { _ = c.monitor.Run(ctx) }()
		slog.Info("watching connectivity", "mode", c.mode, "pending", c.coord.PendingCount())
		err := c.coord.Watch(ctx, sig)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return enc.Encode(c.coord.Status())
	}
	return nil
}
