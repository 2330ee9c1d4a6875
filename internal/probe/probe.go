// Package probe answers one question about a simulation instance: is the
// simulation server inside it actually serving? A VM can report RUNNING for
// minutes while post-boot setup is still installing the workload, so the
// provider lifecycle state is not enough.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"

	"simcloud/internal/monitor"
)

// frameMethod is the trajectory-service method probed on the simulation
// server. The server answering it at all is the liveness signal; whether it
// supports this particular query is irrelevant.
const frameMethod = "/narupa.protocol.trajectory.TrajectoryService/GetFrame"

// DefaultTimeout keeps one probe from stalling a scheduler tick.
const DefaultTimeout = 1 * time.Second

type Prober interface {
	// Probe reports whether the simulation server at address:port is
	// answering. Inconclusive outcomes (timeout, refused connection) are
	// not-ready, not errors.
	Probe(ctx context.Context, address string, port int) bool
}

// GRPC probes the simulation server with a single short-lived gRPC call. An
// UNIMPLEMENTED response counts as alive: the process is up and answering
// even though it rejects this query.
type GRPC struct {
	Timeout time.Duration
	logger  *slog.Logger
}

var _ Prober = (*GRPC)(nil)

func NewGRPC(timeout time.Duration, logger *slog.Logger) *GRPC {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GRPC{
		Timeout: timeout,
		logger:  logger.With("component", "probe"),
	}
}

func (g *GRPC) Probe(ctx context.Context, address string, port int) bool {
	target := fmt.Sprintf("%s:%d", address, port)

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		g.logger.Debug("Probe dial failed", "target", target, "error", err)
		return false
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	start := time.Now()
	err = conn.Invoke(ctx, frameMethod, &emptypb.Empty{}, &emptypb.Empty{})
	monitor.ProbeLatency.Observe(time.Since(start).Seconds())

	if err == nil {
		return true
	}
	if status.Code(err) == codes.Unimplemented {
		return true
	}
	g.logger.Debug("Probe inconclusive", "target", target, "error", err)
	return false
}
