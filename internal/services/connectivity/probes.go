package connectivity

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HTTPProbe считает сервис доступным, если GET вернул 2xx.
type HTTPProbe struct {
	url   string
	httpc *http.Client
}

func NewHTTPProbe(url string, httpc *http.Client) *HTTPProbe {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	return &HTTPProbe{url: url, httpc: httpc}
}

func (p *HTTPProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	resp, err := p.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("health check http %d", resp.StatusCode)
	}
	return nil
}

// GRPCHealthProbe asks a grpc.health.v1 server whether service is SERVING.
// An empty service name checks the server as a whole.
type GRPCHealthProbe struct {
	client  healthpb.HealthClient
	service string
}

func NewGRPCHealthProbe(conn grpc.ClientConnInterface, service string) *GRPCHealthProbe {
	return &GRPCHealthProbe{client: healthpb.NewHealthClient(conn), service: service}
}

func (p *GRPCHealthProbe) Check(ctx context.Context) error {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return errors.Wrap(err, "grpc health check")
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc health status %s", resp.GetStatus())
	}
	return nil
}
