package worker

import (
	"context"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Serve muxes the chi HTTP handler and a standard gRPC health service onto
// one listener, giving DaemonSupervisor a protocol-level liveness probe
// alongside GET /health. It blocks until ctx is cancelled or either
// sub-server fails, and tears both down on return.
func (s *Service) Serve(ctx context.Context, lis net.Listener) error {
	m := cmux.New(lis)
	grpcL := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldPrefixSendSettings("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	grpcServer := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, s.healthServer)

	httpServer := &http.Server{Handler: s.router}

	errCh := make(chan error, 3)
	go func() { errCh <- grpcServer.Serve(grpcL) }()
	go func() { errCh <- httpServer.Serve(httpL) }()
	go func() { errCh <- m.Serve() }()

	select {
	case <-ctx.Done():
		grpcServer.GracefulStop()
		_ = httpServer.Shutdown(context.Background())
		return nil
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("worker: listener failure")
		}
		grpcServer.GracefulStop()
		_ = httpServer.Shutdown(context.Background())
		return err
	}
}
