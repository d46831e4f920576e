package elections

import (
	"fmt"
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported by the health service.
const ServiceName = "elections.Engine"

// Serve the gRPC health service on the address so that process supervisors
// can observe the engine. Blocks until StopServing or Close is called.
func (eng *Engine) Serve(addr string) error {
	sock, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("could not listen on %s: %w", addr, err)
	}
	defer sock.Close()

	eng.smu.Lock()
	if eng.srv != nil {
		eng.smu.Unlock()
		return fmt.Errorf("already serving health checks")
	}

	eng.srv = grpc.NewServer()
	eng.health = health.NewServer()
	healthpb.RegisterHealthServer(eng.srv, eng.health)
	eng.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	eng.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	srv := eng.srv
	eng.smu.Unlock()

	log.Info().Str("addr", addr).Msg("serving health checks")
	return srv.Serve(sock)
}

// StopServing marks the engine as not serving and gracefully stops the
// health service.
func (eng *Engine) StopServing() error {
	eng.smu.Lock()
	defer eng.smu.Unlock()

	if eng.srv == nil {
		return ErrNotListening
	}

	eng.health.Shutdown()
	eng.srv.GracefulStop()
	eng.srv, eng.health = nil, nil
	return nil
}
