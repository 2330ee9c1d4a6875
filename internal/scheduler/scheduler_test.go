package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"simcloud/internal/instance"
	"simcloud/internal/session"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
}

var _ session.Store = (*memStore)(nil)

func newMemStore(sessions ...*session.Session) *memStore {
	m := &memStore{sessions: make(map[string]*session.Session)}
	for _, s := range sessions {
		cp := *s
		m.sessions[s.ID] = &cp
	}
	return m
}

func (m *memStore) Create(ctx context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memStore) Get(ctx context.Context, id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ListByUser(ctx context.Context, userID string) ([]*session.Session, error) {
	return nil, nil
}

func (m *memStore) ListByInstanceStatus(ctx context.Context, status session.InstanceStatus) ([]*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*session.Session
	for _, s := range m.sessions {
		if s.Instance.Status == status {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) Replace(ctx context.Context, s *session.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return session.ErrNotFound
	}
	if cur.Version != s.Version {
		return session.ErrVersionConflict
	}
	cp := *s
	cp.Version = s.Version + 1
	m.sessions[s.ID] = &cp
	s.Version = cp.Version
	return nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

type fakeRouter struct {
	mu        sync.Mutex
	launches  []instance.Descriptor
	launchFn  func(d instance.Descriptor) (instance.LaunchResponse, error)
	statusFor map[string]instance.Report
	statusErr error
}

func (f *fakeRouter) Launch(ctx context.Context, regionName string, d instance.Descriptor) (instance.LaunchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches = append(f.launches, d)
	if f.launchFn != nil {
		return f.launchFn(d)
	}
	return instance.LaunchResponse{
		Status: instance.LaunchStatusSuccess,
		JobID:  "ocid1.instance.oc1.eu-frankfurt-1.job" + d.Branch,
	}, nil
}

func (f *fakeRouter) Status(ctx context.Context, jobID string) (instance.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return instance.Report{}, f.statusErr
	}
	if rep, ok := f.statusFor[jobID]; ok {
		return rep, nil
	}
	return instance.Report{OCIState: "PROVISIONING"}, nil
}

func (f *fakeRouter) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.launches)
}

func testSession(id string, status session.InstanceStatus) *session.Session {
	s := &session.Session{
		ID:       id,
		UserID:   "user-1",
		Location: "Frankfurt",
		Branch:   id,
		Timezone: "UTC",
		StartAt:  "2026-09-01T14:00:00",
		EndAt:    "2026-09-01T16:00:00",
		WarmUpAt: "2026-09-01T13:50:00",
		Simulation: &session.Simulation{
			Name:      "nanotube",
			Runner:    session.RunnerASE,
			ConfigURL: "https://example.com/sim.xml",
		},
		Instance: session.NewInstance(),
	}
	switch status {
	case session.StatusWarming:
		s.Instance.MarkWarming("ocid1.instance.oc1.eu-frankfurt-1." + id)
	case session.StatusLaunched:
		s.Instance.MarkWarming("ocid1.instance.oc1.eu-frankfurt-1." + id)
		s.Instance.MarkLaunched("203.0.113.7")
	}
	return s
}

func newTestScheduler(store session.Store, router Router, cfg Config, now time.Time) *Scheduler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(store, router, nil, cfg, logger)
	s.now = func() time.Time { return now }
	return s
}

var afterWarmUp = time.Date(2026, 9, 1, 14, 0, 0, 0, time.UTC)
var beforeWarmUp = time.Date(2026, 9, 1, 13, 0, 0, 0, time.UTC)

func TestTickLaunchesDuePendingSession(t *testing.T) {
	store := newMemStore(testSession("a", session.StatusPending))
	router := &fakeRouter{}
	sched := newTestScheduler(store, router, Config{}, afterWarmUp)

	sched.Tick(context.Background())

	if router.launchCount() != 1 {
		t.Fatalf("launches = %d, want 1", router.launchCount())
	}
	sess, _ := store.Get(context.Background(), "a")
	if sess.Instance.Status != session.StatusWarming {
		t.Errorf("status = %s, want WARMING", sess.Instance.Status)
	}
	if sess.Instance.JobID == "" {
		t.Error("no job id recorded")
	}
	if router.launches[0].Region != "Frankfurt" {
		t.Errorf("descriptor region = %q, want Frankfurt", router.launches[0].Region)
	}
}

func TestTickLeavesNotDueSessionAlone(t *testing.T) {
	store := newMemStore(testSession("a", session.StatusPending))
	router := &fakeRouter{}
	sched := newTestScheduler(store, router, Config{}, beforeWarmUp)

	sched.Tick(context.Background())

	if router.launchCount() != 0 {
		t.Fatalf("launches = %d, want 0", router.launchCount())
	}
	sess, _ := store.Get(context.Background(), "a")
	if sess.Instance.Status != session.StatusPending {
		t.Errorf("status = %s, want PENDING", sess.Instance.Status)
	}
}

func TestTickNoCapacityLeavesSessionPending(t *testing.T) {
	store := newMemStore(testSession("a", session.StatusPending))
	router := &fakeRouter{launchFn: func(d instance.Descriptor) (instance.LaunchResponse, error) {
		return instance.LaunchResponse{Status: instance.LaunchStatusNoCapacity}, nil
	}}
	sched := newTestScheduler(store, router, Config{}, afterWarmUp)

	sched.Tick(context.Background())
	sched.Tick(context.Background())

	sess, _ := store.Get(context.Background(), "a")
	if sess.Instance.Status != session.StatusPending {
		t.Errorf("status = %s, want PENDING", sess.Instance.Status)
	}
	if sess.Instance.JobID != "" {
		t.Errorf("job id recorded on capacity refusal: %q", sess.Instance.JobID)
	}
	// Each tick retries; the refusal is not terminal.
	if router.launchCount() != 2 {
		t.Errorf("launches = %d, want 2", router.launchCount())
	}
}

func TestTickMarksUndescribableSessionFailed(t *testing.T) {
	broken := testSession("a", session.StatusPending)
	broken.Simulation = nil
	store := newMemStore(broken)
	router := &fakeRouter{}
	sched := newTestScheduler(store, router, Config{}, afterWarmUp)

	sched.Tick(context.Background())

	if router.launchCount() != 0 {
		t.Fatalf("launched a session with no simulation")
	}
	sess, _ := store.Get(context.Background(), "a")
	if sess.Instance.Status != session.StatusFailed {
		t.Errorf("status = %s, want FAILED", sess.Instance.Status)
	}
}

func TestTickIsolatesPerSessionFailures(t *testing.T) {
	store := newMemStore(
		testSession("bad", session.StatusPending),
		testSession("good", session.StatusPending),
	)
	router := &fakeRouter{launchFn: func(d instance.Descriptor) (instance.LaunchResponse, error) {
		if d.Branch == "bad" {
			return instance.LaunchResponse{}, errors.New("region unreachable")
		}
		return instance.LaunchResponse{Status: instance.LaunchStatusSuccess, JobID: "ocid1.instance.oc1.eu-frankfurt-1.ok"}, nil
	}}
	sched := newTestScheduler(store, router, Config{}, afterWarmUp)

	sched.Tick(context.Background())

	good, _ := store.Get(context.Background(), "good")
	if good.Instance.Status != session.StatusWarming {
		t.Errorf("good session status = %s, want WARMING", good.Instance.Status)
	}
	bad, _ := store.Get(context.Background(), "bad")
	if bad.Instance.Status != session.StatusPending {
		t.Errorf("bad session status = %s, want PENDING for retry", bad.Instance.Status)
	}
}

func TestTickPromotesWarmingToLaunched(t *testing.T) {
	sess := testSession("a", session.StatusWarming)
	store := newMemStore(sess)
	ip := "203.0.113.7"
	router := &fakeRouter{statusFor: map[string]instance.Report{
		sess.Instance.JobID: {OCIState: "RUNNING", IP: &ip, NarupaStatus: true},
	}}
	sched := newTestScheduler(store, router, Config{}, afterWarmUp)

	sched.Tick(context.Background())

	got, _ := store.Get(context.Background(), "a")
	if got.Instance.Status != session.StatusLaunched {
		t.Fatalf("status = %s, want LAUNCHED", got.Instance.Status)
	}
	if got.Instance.IP != ip {
		t.Errorf("ip = %q, want %q", got.Instance.IP, ip)
	}
}

func TestTickRunningWithoutProbeStaysWarming(t *testing.T) {
	sess := testSession("a", session.StatusWarming)
	store := newMemStore(sess)
	ip := "203.0.113.7"
	router := &fakeRouter{statusFor: map[string]instance.Report{
		// Provider says RUNNING but the simulation server is not up yet.
		sess.Instance.JobID: {OCIState: "RUNNING", IP: &ip, NarupaStatus: false},
	}}
	sched := newTestScheduler(store, router, Config{}, afterWarmUp)

	sched.Tick(context.Background())

	got, _ := store.Get(context.Background(), "a")
	if got.Instance.Status != session.StatusWarming {
		t.Errorf("status = %s, want WARMING", got.Instance.Status)
	}
}

func TestTickWarmingLostInstance(t *testing.T) {
	t.Run("mark-failed policy", func(t *testing.T) {
		sess := testSession("a", session.StatusWarming)
		store := newMemStore(sess)
		router := &fakeRouter{statusFor: map[string]instance.Report{
			sess.Instance.JobID: {OCIState: "TERMINATED"},
		}}
		sched := newTestScheduler(store, router, Config{FailurePolicy: PolicyMarkFailed}, afterWarmUp)

		sched.Tick(context.Background())

		got, _ := store.Get(context.Background(), "a")
		if got.Instance.Status != session.StatusFailed {
			t.Errorf("status = %s, want FAILED", got.Instance.Status)
		}
	})

	t.Run("leave policy", func(t *testing.T) {
		sess := testSession("a", session.StatusWarming)
		store := newMemStore(sess)
		router := &fakeRouter{statusFor: map[string]instance.Report{
			sess.Instance.JobID: {OCIState: "TERMINATED"},
		}}
		sched := newTestScheduler(store, router, Config{FailurePolicy: PolicyLeave}, afterWarmUp)

		sched.Tick(context.Background())

		got, _ := store.Get(context.Background(), "a")
		if got.Instance.Status != session.StatusWarming {
			t.Errorf("status = %s, want WARMING", got.Instance.Status)
		}
	})
}

func TestTickStopsDeadLaunchedSession(t *testing.T) {
	sess := testSession("a", session.StatusLaunched)
	store := newMemStore(sess)
	router := &fakeRouter{statusFor: map[string]instance.Report{
		sess.Instance.JobID: {OCIState: "TERMINATED", NarupaStatus: false},
	}}
	sched := newTestScheduler(store, router, Config{MonitorLaunched: true}, afterWarmUp)

	sched.Tick(context.Background())

	got, _ := store.Get(context.Background(), "a")
	if got.Instance.Status != session.StatusStopped {
		t.Errorf("status = %s, want STOPPED", got.Instance.Status)
	}
	if got.Instance.IP != "" {
		t.Errorf("ip %q survived the stop", got.Instance.IP)
	}
}

func TestTickStatusErrorLeavesWarming(t *testing.T) {
	sess := testSession("a", session.StatusWarming)
	store := newMemStore(sess)
	router := &fakeRouter{statusErr: errors.New("region unreachable")}
	sched := newTestScheduler(store, router, Config{}, afterWarmUp)

	sched.Tick(context.Background())

	got, _ := store.Get(context.Background(), "a")
	if got.Instance.Status != session.StatusWarming {
		t.Errorf("status = %s, want WARMING", got.Instance.Status)
	}
}
