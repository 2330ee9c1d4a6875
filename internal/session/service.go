package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// RegionTable is the part of the region registry the service needs: session
// locations must name a known region.
type RegionTable interface {
	HasName(name string) bool
}

type ServiceConfig struct {
	// WarmUpLead is how long before start_at the instance launch is
	// scheduled.
	WarmUpLead time.Duration
	// MaxLength caps the scheduled session length.
	MaxLength time.Duration
}

// Service owns session document lifecycle on behalf of the API handlers and
// the termination worker. Launching is not done here; the scheduler picks
// PENDING sessions up on its own ticks.
type Service struct {
	store   Store
	regions RegionTable
	queue   *asynq.Client
	cfg     ServiceConfig
	logger  *slog.Logger
}

func NewService(store Store, regions RegionTable, queue *asynq.Client, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.WarmUpLead == 0 {
		cfg.WarmUpLead = 10 * time.Minute
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = 5 * time.Hour
	}
	return &Service{
		store:   store,
		regions: regions,
		queue:   queue,
		cfg:     cfg,
		logger:  logger.With("component", "session-service"),
	}
}

// Params carries session fields from the API layer. Description and Record
// are pointers so an edit can tell "not sent" apart from "reset to zero".
type Params struct {
	UserID      string
	Description *string
	Location    string
	Branch      string
	Timezone    string
	StartAt     string
	EndAt       string
	Record      *bool
	Simulation  *Simulation
}

func (s *Service) Create(ctx context.Context, p Params) (*Session, error) {
	sess := &Session{
		ID:         uuid.New().String(),
		UserID:     p.UserID,
		Location:   p.Location,
		Branch:     p.Branch,
		Timezone:   p.Timezone,
		StartAt:    p.StartAt,
		EndAt:      p.EndAt,
		Simulation: p.Simulation,
		Instance:   NewInstance(),
		CreatedAt:  time.Now(),
	}
	if p.Description != nil {
		sess.Description = *p.Description
	}
	if p.Record != nil {
		sess.Record = *p.Record
	}

	if err := s.validate(sess); err != nil {
		return nil, err
	}
	warmUpAt, err := s.warmUpAt(sess)
	if err != nil {
		return nil, err
	}
	sess.WarmUpAt = warmUpAt

	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}

	s.logger.Info("Session created",
		slog.String("session_id", sess.ID),
		slog.String("location", sess.Location),
		slog.String("warm_up_at", sess.WarmUpAt))
	return sess, nil
}

// Update applies edits to the schedulable fields and re-derives warm_up_at.
// Editing a session whose instance is terminal replaces the instance with a
// fresh PENDING one; that is the only way out of FAILED or STOPPED.
func (s *Service) Update(ctx context.Context, id string, p Params) (*Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if p.Description != nil {
		sess.Description = *p.Description
	}
	if p.Location != "" {
		sess.Location = p.Location
	}
	if p.Branch != "" {
		sess.Branch = p.Branch
	}
	if p.Timezone != "" {
		sess.Timezone = p.Timezone
	}
	if p.StartAt != "" {
		sess.StartAt = p.StartAt
	}
	if p.EndAt != "" {
		sess.EndAt = p.EndAt
	}
	if p.Simulation != nil {
		sess.Simulation = p.Simulation
	}
	if p.Record != nil {
		sess.Record = *p.Record
	}

	if err := s.validate(sess); err != nil {
		return nil, err
	}
	warmUpAt, err := s.warmUpAt(sess)
	if err != nil {
		return nil, err
	}
	sess.WarmUpAt = warmUpAt

	if sess.Instance.Status.Terminal() {
		sess.Instance = NewInstance()
	}

	if err := s.store.Replace(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	return s.store.ListByUser(ctx, userID)
}

// Delete removes the session document. If an instance is still attached its
// termination is enqueued so the compute is not leaked.
func (s *Service) Delete(ctx context.Context, id string) error {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	if sess.Instance.JobID != "" && !sess.Instance.Status.Terminal() {
		s.enqueueTerminate(TerminatePayload{JobID: sess.Instance.JobID})
	}
	return nil
}

// TerminateInstance enqueues the user-initiated termination path for the
// session's instance. The worker stops the compute and marks the instance
// STOPPED regardless of the terminate call's outcome.
func (s *Service) TerminateInstance(ctx context.Context, id string) error {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	s.enqueueTerminate(TerminatePayload{SessionID: sess.ID, JobID: sess.Instance.JobID})
	return nil
}

func (s *Service) enqueueTerminate(p TerminatePayload) {
	payload, _ := json.Marshal(p)
	info, err := s.queue.Enqueue(asynq.NewTask(TerminateTask, payload))
	if err != nil {
		s.logger.Error("Failed to enqueue terminate task",
			"session_id", p.SessionID, "job_id", p.JobID, "error", err)
		return
	}
	s.logger.Info("Terminate task enqueued",
		"session_id", p.SessionID, "job_id", p.JobID, "task_id", info.ID)
}

func (s *Service) validate(sess *Session) error {
	if sess.Location == "" {
		return fmt.Errorf("%w: location is required", ErrInvalidSession)
	}
	if !s.regions.HasName(sess.Location) {
		return fmt.Errorf("%w: unknown location %q", ErrInvalidSession, sess.Location)
	}
	if sess.Simulation == nil {
		return fmt.Errorf("%w: simulation is required", ErrInvalidSession)
	}
	if _, err := ParseRunnerKind(string(sess.Simulation.Runner)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	length, err := sess.SessionLength()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if length <= 0 {
		return fmt.Errorf("%w: end_at must be after start_at", ErrInvalidSession)
	}
	if length > s.cfg.MaxLength {
		return fmt.Errorf("%w: session is longer than the %s limit", ErrInvalidSession, s.cfg.MaxLength)
	}
	return nil
}

func (s *Service) warmUpAt(sess *Session) (string, error) {
	loc, err := time.LoadLocation(sess.Timezone)
	if err != nil {
		return "", fmt.Errorf("%w: bad timezone %q: %w", ErrInvalidSession, sess.Timezone, err)
	}
	start, err := time.ParseInLocation(WallClock, sess.StartAt, loc)
	if err != nil {
		return "", fmt.Errorf("%w: bad start_at %q: %w", ErrInvalidSession, sess.StartAt, err)
	}
	return start.Add(-s.cfg.WarmUpLead).Format(WallClock), nil
}
