package session

import (
	"fmt"
	"time"
)

// InstanceStatus is the orchestrator-side lifecycle of the compute instance
// backing a session. It is distinct from the provider lifecycle state.
type InstanceStatus string

const (
	StatusPending  InstanceStatus = "PENDING"
	StatusWarming  InstanceStatus = "WARMING"
	StatusLaunched InstanceStatus = "LAUNCHED"
	StatusFailed   InstanceStatus = "FAILED"
	StatusStopped  InstanceStatus = "STOPPED"
)

// Terminal reports whether the status can only be left by replacing the
// whole instance with a fresh PENDING one through a session edit.
func (s InstanceStatus) Terminal() bool {
	return s == StatusFailed || s == StatusStopped
}

// Instance is the compute instance embedded in a session document.
// Invariant: IP is set if and only if Status is LAUNCHED.
type Instance struct {
	Status InstanceStatus `json:"status"`
	JobID  string         `json:"job_id,omitempty"`
	IP     string         `json:"ip,omitempty"`
}

// NewInstance returns a fresh instance with no job attached.
func NewInstance() Instance {
	return Instance{Status: StatusPending}
}

func (i *Instance) MarkWarming(jobID string) {
	i.Status = StatusWarming
	i.JobID = jobID
	i.IP = ""
}

func (i *Instance) MarkLaunched(ip string) {
	i.Status = StatusLaunched
	i.IP = ip
}

func (i *Instance) MarkFailed() {
	i.Status = StatusFailed
	i.IP = ""
}

func (i *Instance) MarkStopped() {
	i.Status = StatusStopped
	i.IP = ""
}

// Simulation is the snapshot of the simulation a session runs, embedded in
// the session document at creation time.
type Simulation struct {
	ID            string     `json:"id,omitempty"`
	Name          string     `json:"name"`
	Author        string     `json:"author,omitempty"`
	Description   string     `json:"description,omitempty"`
	Runner        RunnerKind `json:"runner"`
	ConfigURL     string     `json:"config_url,omitempty"`
	TopologyURL   string     `json:"topology_url,omitempty"`
	TrajectoryURL string     `json:"trajectory_url,omitempty"`
	ImageURL      string     `json:"image_url,omitempty"`
}

// WallClock is the layout of the session timing fields. They are stored
// without a zone offset; Timezone names the location they are read in.
const WallClock = "2006-01-02T15:04:05"

type Session struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Description string      `json:"description,omitempty"`
	Location    string      `json:"location"` // region name, e.g. "Frankfurt"
	Branch      string      `json:"branch"`
	Timezone    string      `json:"timezone"`
	StartAt     string      `json:"start_at"`
	EndAt       string      `json:"end_at"`
	WarmUpAt    string      `json:"warm_up_at"`
	Record      bool        `json:"record"`
	Simulation  *Simulation `json:"simulation"`
	Instance    Instance    `json:"instance"`
	Version     int64       `json:"version"`
	CreatedAt   time.Time   `json:"created_at"`
}

// WarmUpPassed reports whether the session's warm-up instant, read in the
// session's declared timezone, is earlier than now.
func (s *Session) WarmUpPassed(now time.Time) (bool, error) {
	at, err := s.timeIn(s.WarmUpAt)
	if err != nil {
		return false, err
	}
	return now.After(at), nil
}

// RunDuration is the number of seconds the instance should stay up, from
// warm-up until the scheduled end of the session.
func (s *Session) RunDuration() (int64, error) {
	warm, err := s.timeIn(s.WarmUpAt)
	if err != nil {
		return 0, err
	}
	end, err := s.timeIn(s.EndAt)
	if err != nil {
		return 0, err
	}
	return int64(end.Sub(warm).Seconds()), nil
}

// SessionLength is the scheduled length of the session itself.
func (s *Session) SessionLength() (time.Duration, error) {
	start, err := s.timeIn(s.StartAt)
	if err != nil {
		return 0, err
	}
	end, err := s.timeIn(s.EndAt)
	if err != nil {
		return 0, err
	}
	return end.Sub(start), nil
}

func (s *Session) timeIn(value string) (time.Time, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}
	t, err := time.ParseInLocation(WallClock, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return t, nil
}

// TerminateTask is the asynq task type for user-initiated instance
// termination.
const TerminateTask = "instance:terminate"

type TerminatePayload struct {
	SessionID string `json:"session_id"`
	JobID     string `json:"job_id"`
}
