package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"simcloud/internal/eventbus"
	"simcloud/internal/provider"
	"simcloud/internal/session"
)

// Router is the slice of the region router the worker needs to tear an
// instance down wherever it lives.
type Router interface {
	Terminate(ctx context.Context, jobID string) error
}

// TerminateWorker consumes user-initiated termination tasks. The session is
// marked STOPPED whether or not the provider-side delete goes through; the
// instance self-terminates at the end of its booked duration anyway.
type TerminateWorker struct {
	router Router
	store  session.Store
	bus    eventbus.EventBus
	logger *slog.Logger
}

func NewTerminateWorker(router Router, store session.Store, bus eventbus.EventBus, logger *slog.Logger) *TerminateWorker {
	return &TerminateWorker{
		router: router,
		store:  store,
		bus:    bus,
		logger: logger.With("component", "terminate-worker"),
	}
}

func (w *TerminateWorker) HandleTerminate(ctx context.Context, task *asynq.Task) error {
	var payload session.TerminatePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		w.logger.Error("Failed to unmarshal payload", "error", err)
		return fmt.Errorf("json unmarshal error: %w", err)
	}

	w.logger.Info("Terminating instance", "session_id", payload.SessionID, "job_id", payload.JobID)

	if payload.JobID != "" {
		err := w.router.Terminate(ctx, payload.JobID)
		switch {
		case err == nil:
		case errors.Is(err, provider.ErrInstanceNotFound):
			w.logger.Info("Instance already gone", "job_id", payload.JobID)
		default:
			w.logger.Warn("Terminate request failed, stopping session anyway",
				"job_id", payload.JobID, "error", err)
		}
	}

	if payload.SessionID == "" {
		return nil
	}

	sess, err := w.store.Get(ctx, payload.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session %s: %w", payload.SessionID, err)
	}

	if sess.Instance.Status == session.StatusStopped {
		return nil
	}

	sess.Instance.MarkStopped()
	if err := w.store.Replace(ctx, sess); err != nil {
		if errors.Is(err, session.ErrVersionConflict) {
			// A concurrent write landed between our read and write. Fail the
			// task so asynq redelivers it; the retry re-reads the fresh
			// version and records the stop.
			w.logger.Warn("Session changed during terminate, retrying",
				"session_id", payload.SessionID)
		}
		return fmt.Errorf("stop session %s: %w", payload.SessionID, err)
	}

	if w.bus != nil {
		event := eventbus.Event{
			Type:      eventbus.EventInstanceStopped,
			SessionID: payload.SessionID,
			Timestamp: time.Now(),
		}
		if err := w.bus.Publish(ctx, payload.SessionID, event); err != nil {
			w.logger.Warn("Failed to publish stop event", "session_id", payload.SessionID, "error", err)
		}
	}

	w.logger.Info("Session stopped", "session_id", payload.SessionID)
	return nil
}
