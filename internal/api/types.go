package api

import (
	"time"

	"simcloud/internal/session"
)

type SimulationRequest struct {
	Name          string `json:"name"`
	Author        string `json:"author"`
	Description   string `json:"description"`
	Runner        string `json:"runner" binding:"required"`
	ConfigURL     string `json:"config_url"`
	TopologyURL   string `json:"topology_url"`
	TrajectoryURL string `json:"trajectory_url"`
	ImageURL      string `json:"image_url"`
}

type CreateSessionRequest struct {
	UserID      string             `json:"user_id" binding:"required"`
	Description string             `json:"description"`
	Location    string             `json:"location" binding:"required"`
	Branch      string             `json:"branch"`
	Timezone    string             `json:"timezone" binding:"required"`
	StartAt     string             `json:"start_at" binding:"required"`
	EndAt       string             `json:"end_at" binding:"required"`
	Record      bool               `json:"record"`
	Simulation  *SimulationRequest `json:"simulation" binding:"required"`
}

// UpdateSessionRequest supports partial edits; omitted fields keep their
// stored values, so description and record are pointers.
type UpdateSessionRequest struct {
	Description *string            `json:"description"`
	Location    string             `json:"location"`
	Branch      string             `json:"branch"`
	Timezone    string             `json:"timezone"`
	StartAt     string             `json:"start_at"`
	EndAt       string             `json:"end_at"`
	Record      *bool              `json:"record"`
	Simulation  *SimulationRequest `json:"simulation"`
}

type InstanceResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
	IP     string `json:"ip,omitempty"`
}

type SessionResponse struct {
	ID          string              `json:"id"`
	UserID      string              `json:"user_id"`
	Description string              `json:"description,omitempty"`
	Location    string              `json:"location"`
	Branch      string              `json:"branch"`
	Timezone    string              `json:"timezone"`
	StartAt     string              `json:"start_at"`
	EndAt       string              `json:"end_at"`
	WarmUpAt    string              `json:"warm_up_at"`
	Record      bool                `json:"record"`
	Simulation  *session.Simulation `json:"simulation"`
	Instance    InstanceResponse    `json:"instance"`
	CreatedAt   string              `json:"created_at"`
}

type SessionListResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Region    string `json:"region"`
	Timestamp string `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

type SSEEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
}

func toSessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		ID:          s.ID,
		UserID:      s.UserID,
		Description: s.Description,
		Location:    s.Location,
		Branch:      s.Branch,
		Timezone:    s.Timezone,
		StartAt:     s.StartAt,
		EndAt:       s.EndAt,
		WarmUpAt:    s.WarmUpAt,
		Record:      s.Record,
		Simulation:  s.Simulation,
		Instance: InstanceResponse{
			Status: string(s.Instance.Status),
			JobID:  s.Instance.JobID,
			IP:     s.Instance.IP,
		},
		CreatedAt: formatTime(s.CreatedAt),
	}
}

func toSimulation(r *SimulationRequest) *session.Simulation {
	if r == nil {
		return nil
	}
	return &session.Simulation{
		Name:          r.Name,
		Author:        r.Author,
		Description:   r.Description,
		Runner:        session.RunnerKind(r.Runner),
		ConfigURL:     r.ConfigURL,
		TopologyURL:   r.TopologyURL,
		TrajectoryURL: r.TrajectoryURL,
		ImageURL:      r.ImageURL,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
