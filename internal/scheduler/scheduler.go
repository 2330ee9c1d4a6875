package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"simcloud/internal/eventbus"
	"simcloud/internal/instance"
	"simcloud/internal/monitor"
	"simcloud/internal/provider"
	"simcloud/internal/session"
)

// FailurePolicy decides what happens to a WARMING session whose instance has
// left the states a healthy boot goes through.
type FailurePolicy string

const (
	// PolicyMarkFailed gives up on the session so an edit can retry it.
	PolicyMarkFailed FailurePolicy = "mark-failed"
	// PolicyLeave keeps the session WARMING and only logs; useful when the
	// provider state feed is known to be flaky.
	PolicyLeave FailurePolicy = "leave"
)

// Router is the slice of the region router the scheduler drives.
type Router interface {
	Launch(ctx context.Context, regionName string, d instance.Descriptor) (instance.LaunchResponse, error)
	Status(ctx context.Context, jobID string) (instance.Report, error)
}

type Config struct {
	TickPeriod       time.Duration
	FailurePolicy    FailurePolicy
	MonitorLaunched  bool
	CheckConcurrency int
}

// Scheduler walks the session store on a fixed period and drives every
// instance toward its session's schedule: launching when warm-up time has
// passed, promoting to LAUNCHED once the simulation server answers, and
// optionally stopping launched sessions whose server has gone away.
type Scheduler struct {
	store  session.Store
	router Router
	bus    eventbus.EventBus
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func New(store session.Store, router Router, bus eventbus.EventBus, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = 30 * time.Second
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = PolicyMarkFailed
	}
	if cfg.CheckConcurrency <= 0 {
		cfg.CheckConcurrency = 8
	}
	return &Scheduler{
		store:  store,
		router: router,
		bus:    bus,
		cfg:    cfg,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
	}
}

// Run ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TickPeriod)
	defer ticker.Stop()

	s.logger.Info("Scheduler started", "tick_period", s.cfg.TickPeriod, "failure_policy", s.cfg.FailurePolicy)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one full pass. A failure on one session never blocks the rest.
func (s *Scheduler) Tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		monitor.TickDuration.Observe(time.Since(start).Seconds())
	}()

	s.tickPending(ctx)
	s.tickWarming(ctx)
	if s.cfg.MonitorLaunched {
		s.tickLaunched(ctx)
	}
}

func (s *Scheduler) tickPending(ctx context.Context) {
	sessions, err := s.store.ListByInstanceStatus(ctx, session.StatusPending)
	if err != nil {
		s.logger.Error("Failed to list pending sessions", "error", err)
		return
	}
	monitor.SessionsPending.Set(float64(len(sessions)))

	launched := 0
	for _, sess := range sessions {
		if err := s.warmUp(ctx, sess); err != nil {
			monitor.SessionErrorsTotal.Inc()
			s.logger.Error("Warm-up failed", "session_id", sess.ID, "error", err)
			continue
		}
		if sess.Instance.Status == session.StatusWarming {
			launched++
		}
	}
	if len(sessions) > 0 {
		s.logger.Info("Pending pass complete", "pending", len(sessions), "launched", launched)
	}
}

// warmUp launches the instance for one pending session if its warm-up time
// has passed. A capacity refusal leaves the session PENDING so the next tick
// retries; a malformed session is marked FAILED instead of retrying forever.
func (s *Scheduler) warmUp(ctx context.Context, sess *session.Session) error {
	due, err := sess.WarmUpPassed(s.now())
	if err != nil {
		return s.markFailed(ctx, sess, err)
	}
	if !due {
		return nil
	}

	d, err := sess.Descriptor()
	if err != nil {
		return s.markFailed(ctx, sess, err)
	}
	d.Region = sess.Location

	monitor.LaunchesTotal.Inc()
	resp, err := s.router.Launch(ctx, sess.Location, d)
	if err != nil {
		return err
	}

	switch resp.Status {
	case instance.LaunchStatusSuccess:
		sess.Instance.MarkWarming(resp.JobID)
		if err := s.replace(ctx, sess); err != nil {
			return err
		}
		s.publish(ctx, sess.ID, eventbus.EventInstanceWarming, resp.JobID)
		s.logger.Info("Instance warming", "session_id", sess.ID, "job_id", resp.JobID, "region", sess.Location)
		return nil
	case instance.LaunchStatusNoCapacity:
		monitor.NoCapacityTotal.Inc()
		s.publish(ctx, sess.ID, eventbus.EventInstanceNoCapacity, nil)
		s.logger.Warn("Region out of capacity, will retry", "session_id", sess.ID, "region", sess.Location)
		return nil
	default:
		s.logger.Error("Launch refused", "session_id", sess.ID, "region", sess.Location, "status", resp.Status)
		return nil
	}
}

func (s *Scheduler) tickWarming(ctx context.Context) {
	sessions, err := s.store.ListByInstanceStatus(ctx, session.StatusWarming)
	if err != nil {
		s.logger.Error("Failed to list warming sessions", "error", err)
		return
	}
	monitor.SessionsWarming.Set(float64(len(sessions)))
	s.forEachBounded(ctx, sessions, s.checkWarming)
}

// checkWarming promotes one warming session to LAUNCHED once the simulation
// server inside answers the probe and the instance has an address. The
// provider reporting RUNNING is neither necessary nor sufficient for that.
func (s *Scheduler) checkWarming(ctx context.Context, sess *session.Session) {
	rep, err := s.router.Status(ctx, sess.Instance.JobID)
	if err != nil {
		monitor.SessionErrorsTotal.Inc()
		s.logger.Error("Status check failed", "session_id", sess.ID, "job_id", sess.Instance.JobID, "error", err)
		return
	}

	if rep.NarupaStatus && rep.IP != nil && *rep.IP != "" {
		sess.Instance.MarkLaunched(*rep.IP)
		if err := s.replace(ctx, sess); err != nil {
			monitor.SessionErrorsTotal.Inc()
			s.logger.Error("Failed to record launch", "session_id", sess.ID, "error", err)
			return
		}
		monitor.LaunchedTotal.Inc()
		s.publish(ctx, sess.ID, eventbus.EventInstanceLaunched, *rep.IP)
		s.logger.Info("Instance launched", "session_id", sess.ID, "job_id", sess.Instance.JobID, "ip", *rep.IP)
		return
	}

	if !provider.Lifecycle(rep.OCIState).Available() {
		switch s.cfg.FailurePolicy {
		case PolicyLeave:
			s.logger.Warn("Warming instance in unexpected state",
				"session_id", sess.ID, "job_id", sess.Instance.JobID, "oci_state", rep.OCIState)
		default:
			s.logger.Error("Warming instance lost",
				"session_id", sess.ID, "job_id", sess.Instance.JobID, "oci_state", rep.OCIState)
			if err := s.markFailed(ctx, sess, nil); err != nil {
				s.logger.Error("Failed to mark session failed", "session_id", sess.ID, "error", err)
			}
		}
	}
}

func (s *Scheduler) tickLaunched(ctx context.Context) {
	sessions, err := s.store.ListByInstanceStatus(ctx, session.StatusLaunched)
	if err != nil {
		s.logger.Error("Failed to list launched sessions", "error", err)
		return
	}
	s.forEachBounded(ctx, sessions, s.checkLaunched)
}

// checkLaunched notices a launched session whose simulation server has gone
// away. The instance self-terminates at the end of its run, so a dead probe
// here normally means the run is over.
func (s *Scheduler) checkLaunched(ctx context.Context, sess *session.Session) {
	rep, err := s.router.Status(ctx, sess.Instance.JobID)
	if err != nil {
		monitor.SessionErrorsTotal.Inc()
		s.logger.Error("Status check failed", "session_id", sess.ID, "job_id", sess.Instance.JobID, "error", err)
		return
	}
	if rep.NarupaStatus {
		return
	}

	sess.Instance.MarkStopped()
	if err := s.replace(ctx, sess); err != nil {
		monitor.SessionErrorsTotal.Inc()
		s.logger.Error("Failed to record stop", "session_id", sess.ID, "error", err)
		return
	}
	s.publish(ctx, sess.ID, eventbus.EventInstanceStopped, nil)
	s.logger.Info("Instance stopped", "session_id", sess.ID, "job_id", sess.Instance.JobID)
}

func (s *Scheduler) forEachBounded(ctx context.Context, sessions []*session.Session, fn func(context.Context, *session.Session)) {
	sem := make(chan struct{}, s.cfg.CheckConcurrency)
	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		sem <- struct{}{}
		go func(sess *session.Session) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(ctx, sess)
		}(sess)
	}
	wg.Wait()
}

func (s *Scheduler) markFailed(ctx context.Context, sess *session.Session, cause error) error {
	sess.Instance.MarkFailed()
	if err := s.replace(ctx, sess); err != nil {
		return err
	}
	monitor.FailedTotal.Inc()
	s.publish(ctx, sess.ID, eventbus.EventInstanceFailed, nil)
	if cause != nil {
		s.logger.Error("Session failed", "session_id", sess.ID, "error", cause)
	}
	return nil
}

// replace tolerates a concurrent writer: the conflicting session is left for
// the next tick to re-read rather than overwritten.
func (s *Scheduler) replace(ctx context.Context, sess *session.Session) error {
	err := s.store.Replace(ctx, sess)
	if errors.Is(err, session.ErrVersionConflict) {
		s.logger.Warn("Session changed mid-tick, skipping", "session_id", sess.ID)
		return nil
	}
	return err
}

func (s *Scheduler) publish(ctx context.Context, sessionID string, t eventbus.EventType, payload any) {
	if s.bus == nil {
		return
	}
	event := eventbus.Event{
		Type:      t,
		SessionID: sessionID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
	if err := s.bus.Publish(ctx, sessionID, event); err != nil {
		s.logger.Warn("Failed to publish event", "session_id", sessionID, "type", t, "error", err)
	}
}
