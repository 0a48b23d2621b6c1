package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/kioskeeper/internal/coordinator/models"
	"github.com/dmitrijs2005/kioskeeper/internal/logging"
	"github.com/dmitrijs2005/kioskeeper/internal/protocol"
	"github.com/sethvargo/go-retry"
)

// Executor is the hardware surface the agent drives. It is an interface so
// agent tests run without a serial bus.
type Executor interface {
	OpenLocker(ctx context.Context, lockerID int) error
}

// Coordinator is the client surface the agent polls and reports through.
type Coordinator interface {
	Heartbeat(ctx context.Context, req *protocol.HeartbeatRequest) (*protocol.HeartbeatResponse, error)
	ReportResult(ctx context.Context, commandID string, success bool, detail string) error
}

// Agent runs the kiosk poll loop. Each cycle it heartbeats, executes the
// delivered commands strictly in order, and reports every outcome before
// moving to the next command. Execution is sequential on purpose: the relay
// bus tolerates exactly one transaction at a time.
type Agent struct {
	client          Coordinator
	executor        Executor
	interval        time.Duration
	reportedVersion string
	logger          logging.Logger
}

// NewAgent wires the poll loop to a coordinator client and a hardware
// executor. reportedVersion is the agent build tag sent on every heartbeat.
func NewAgent(client Coordinator, executor Executor, interval time.Duration, reportedVersion string, l logging.Logger) *Agent {
	return &Agent{
		client:          client,
		executor:        executor,
		interval:        interval,
		reportedVersion: reportedVersion,
		logger:          l.With("module", "agent"),
	}
}

// Run polls until the context is cancelled. A failed heartbeat is logged and
// retried on the next tick; the coordinator marks the kiosk offline on its
// own liveness threshold, so the agent never gives up.
func (a *Agent) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.logger.Info(ctx, "agent started", "interval", a.interval.String())

	for {
		a.poll(ctx)
		select {
		case <-ctx.Done():
			a.logger.Info(ctx, "agent stopped")
			return
		case <-ticker.C:
		}
	}
}

// poll performs one heartbeat/execute/report cycle.
func (a *Agent) poll(ctx context.Context) {
	resp, err := a.client.Heartbeat(ctx, &protocol.HeartbeatRequest{
		ReportedVersion: a.reportedVersion,
	})
	if err != nil {
		a.logger.Warn(ctx, "heartbeat failed", "error", err)
		return
	}

	for _, cmd := range resp.Commands {
		if ctx.Err() != nil {
			return
		}
		success, detail := a.execute(ctx, cmd)
		if err := a.report(ctx, cmd.CommandID, success, detail); err != nil {
			// The command stays dispatched server-side; the coordinator
			// reclaims and redelivers it after the dispatch timeout.
			a.logger.Error(ctx, "result report failed", "command_id", cmd.CommandID, "error", err)
			return
		}
	}
}

// execute runs one command against the hardware. Block and unblock are
// bookkeeping transitions on the coordinator; the kiosk acknowledges them so
// the state change is applied only once the kiosk has seen it.
func (a *Agent) execute(ctx context.Context, cmd protocol.CommandEnvelope) (bool, string) {
	a.logger.Info(ctx, "executing command",
		"command_id", cmd.CommandID, "type", string(cmd.Type), "locker_id", cmd.Payload.LockerID)

	switch cmd.Type {
	case models.CommandOpenLocker:
		if err := a.executor.OpenLocker(ctx, cmd.Payload.LockerID); err != nil {
			a.logger.Error(ctx, "locker open failed",
				"command_id", cmd.CommandID, "locker_id", cmd.Payload.LockerID, "error", err)
			return false, err.Error()
		}
		return true, ""
	case models.CommandBlock, models.CommandUnblock:
		return true, ""
	default:
		return false, fmt.Sprintf("unsupported command type %q", cmd.Type)
	}
}

// report delivers one result with bounded retries. Losing a result would
// leave the command dispatched until redelivery, so transient network
// errors are worth absorbing here.
func (a *Agent) report(ctx context.Context, commandID string, success bool, detail string) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := a.client.ReportResult(ctx, commandID, success, detail); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}
