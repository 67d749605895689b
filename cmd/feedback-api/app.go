package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	feedbackapi "github.com/BearBump/FeedbackBox/internal/api/feedback_api"
	"github.com/BearBump/FeedbackBox/internal/services/connectivity"
	"github.com/BearBump/FeedbackBox/internal/services/sessions"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// healthService это имя, под которым клиенты спрашивают доступность стора.
const healthService = "feedbackbox.FeedbackStore"

type feedbackAPIOpts struct {
	httpAddr    string
	grpcAddr    string
	swaggerPath string

	onListen func(httpAddr, grpcAddr string)
}

type feedbackAPIDeps struct {
	api      *feedbackapi.API
	monitor  *connectivity.Monitor
	sessions *sessions.Registry
	health   *health.Server
}

func runFeedbackAPI(ctx context.Context, opts feedbackAPIOpts, deps feedbackAPIDeps) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}
	if deps.health == nil {
		deps.health = health.NewServer()
	}

	grpcLis, err := net.Listen("tcp", opts.grpcAddr)
	if err != nil {
		return err
	}
	httpLis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		_ = grpcLis.Close()
		return err
	}

	if opts.onListen != nil {
		opts.onListen(httpLis.Addr().String(), grpcLis.Addr().String())
	}

	grpcErr := make(chan error, 1)
	go func() {
		grpcErr <- runGRPCServer(ctx, grpcLis, deps.health)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, httpLis, opts.swaggerPath, deps)
	}()

	if deps.monitor != nil {
		healthCh := deps.monitor.Subscribe()
		go watchHealth(ctx, healthCh, deps.health)
		if deps.sessions != nil {
			sessCh := deps.monitor.Subscribe()
			go func() { _ = deps.sessions.Watch(ctx, sessCh) }()
		}
		go func() { _ = deps.monitor.Run(ctx) }()
	}

	if deps.sessions != nil {
		go func() {
			n, err := deps.sessions.ResumePersisted(ctx)
			if err != nil {
				slog.Error("resume persisted sessions failed", "error", err.Error())
				return
			}
			if n > 0 {
				slog.Info("persisted sessions resumed", "sessions", n)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-grpcErr:
		return err
	case err := <-httpErr:
		return err
	}
}

// watchHealth переводит изменения связи с Postgres в статус grpc health.
func watchHealth(ctx context.Context, ch <-chan bool, hs *health.Server) {
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-ch:
			if !ok {
				return
			}
			st := healthpb.HealthCheckResponse_NOT_SERVING
			if online {
				st = healthpb.HealthCheckResponse_SERVING
			}
			hs.SetServingStatus("", st)
			hs.SetServingStatus(healthService, st)
		}
	}
}

func runGRPCServer(ctx context.Context, lis net.Listener, hs *health.Server) error {
	s := grpc.NewServer()
	healthpb.RegisterHealthServer(s, hs)

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			s.Stop()
		}
		_ = lis.Close()
	}()

	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.Serve(lis)
}

func newRouter(swaggerPath string, deps feedbackAPIDeps) chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if deps.monitor != nil && !deps.monitor.Online() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"store unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		out := map[string]any{}
		if deps.monitor != nil {
			out["connectivity"] = deps.monitor.Stats()
		}
		if deps.sessions != nil {
			out["sessions"] = deps.sessions.Stats()
		}
		_ = json.NewEncoder(w).Encode(out)
	})

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))

	if deps.api != nil {
		deps.api.Routes(r)
	}
	return r
}

func runHTTPServer(ctx context.Context, lis net.Listener, swaggerPath string, deps feedbackAPIDeps) error {
	srv := &http.Server{
		Handler:           newRouter(swaggerPath, deps),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
