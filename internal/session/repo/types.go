package repo

import (
	"time"

	"simcloud/internal/session"
)

const sessionCacheTTL = time.Minute * 5

type SessionModel struct {
	ID             string                 `json:"id" pg:"id,pk"`
	UserID         string                 `json:"user_id" pg:"user_id,notnull"`
	Description    string                 `json:"description" pg:"description"`
	Location       string                 `json:"location" pg:"location,notnull"`
	Branch         string                 `json:"branch" pg:"branch,notnull"`
	Timezone       string                 `json:"timezone" pg:"timezone,notnull"`
	StartAt        string                 `json:"start_at" pg:"start_at,notnull"`
	EndAt          string                 `json:"end_at" pg:"end_at,notnull"`
	WarmUpAt       string                 `json:"warm_up_at" pg:"warm_up_at,notnull"`
	Record         bool                   `json:"record" pg:"record,use_zero"`
	Simulation     *session.Simulation    `json:"simulation" pg:"simulation,type:jsonb"`
	InstanceStatus session.InstanceStatus `json:"instance_status" pg:"instance_status,notnull"`
	InstanceJobID  string                 `json:"instance_job_id" pg:"instance_job_id"`
	InstanceIP     string                 `json:"instance_ip" pg:"instance_ip"`
	Version        int64                  `json:"version" pg:"version,use_zero,notnull"`
	CreatedAt      time.Time              `json:"created_at" pg:"created_at,notnull"`
}

func toModel(s *session.Session) *SessionModel {
	return &SessionModel{
		ID:             s.ID,
		UserID:         s.UserID,
		Description:    s.Description,
		Location:       s.Location,
		Branch:         s.Branch,
		Timezone:       s.Timezone,
		StartAt:        s.StartAt,
		EndAt:          s.EndAt,
		WarmUpAt:       s.WarmUpAt,
		Record:         s.Record,
		Simulation:     s.Simulation,
		InstanceStatus: s.Instance.Status,
		InstanceJobID:  s.Instance.JobID,
		InstanceIP:     s.Instance.IP,
		Version:        s.Version,
		CreatedAt:      s.CreatedAt,
	}
}

func fromModel(m *SessionModel) *session.Session {
	return &session.Session{
		ID:          m.ID,
		UserID:      m.UserID,
		Description: m.Description,
		Location:    m.Location,
		Branch:      m.Branch,
		Timezone:    m.Timezone,
		StartAt:     m.StartAt,
		EndAt:       m.EndAt,
		WarmUpAt:    m.WarmUpAt,
		Record:      m.Record,
		Simulation:  m.Simulation,
		Instance: session.Instance{
			Status: m.InstanceStatus,
			JobID:  m.InstanceJobID,
			IP:     m.InstanceIP,
		},
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
	}
}

func sessionCacheKey(sessionID string) string {
	return "session:" + sessionID
}
