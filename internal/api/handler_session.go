package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"simcloud/internal/eventbus"
	"simcloud/internal/session"
)

type SessionHandler struct {
	svc *session.Service
	bus eventbus.EventBus
}

func NewSessionHandler(svc *session.Service, bus eventbus.EventBus) *SessionHandler {
	return &SessionHandler{svc: svc, bus: bus}
}

// CreateSession POST /v1/sessions
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	sess, err := h.svc.Create(c.Request.Context(), session.Params{
		UserID:      req.UserID,
		Description: &req.Description,
		Location:    req.Location,
		Branch:      req.Branch,
		Timezone:    req.Timezone,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		Record:      &req.Record,
		Simulation:  toSimulation(req.Simulation),
	})
	if err != nil {
		respondError(c, mapSessionError(err), err)
		return
	}

	c.JSON(http.StatusCreated, toSessionResponse(sess))
}

// ListSessions GET /v1/sessions?user_id=...
func (h *SessionHandler) ListSessions(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, "user_id query parameter is required")
		return
	}

	sessions, err := h.svc.ListByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		resp = append(resp, toSessionResponse(sess))
	}
	c.JSON(http.StatusOK, SessionListResponse{Sessions: resp})
}

// GetSession GET /v1/sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	sess, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, mapSessionError(err), err)
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(sess))
}

// UpdateSession PUT /v1/sessions/:id
func (h *SessionHandler) UpdateSession(c *gin.Context) {
	var req UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, err.Error())
		return
	}

	sess, err := h.svc.Update(c.Request.Context(), c.Param("id"), session.Params{
		Description: req.Description,
		Location:    req.Location,
		Branch:      req.Branch,
		Timezone:    req.Timezone,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		Record:      req.Record,
		Simulation:  toSimulation(req.Simulation),
	})
	if err != nil {
		respondError(c, mapSessionError(err), err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(sess))
}

// DeleteSession DELETE /v1/sessions/:id
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, mapSessionError(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TerminateInstance DELETE /v1/sessions/:id/instance
func (h *SessionHandler) TerminateInstance(c *gin.Context) {
	if err := h.svc.TerminateInstance(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, mapSessionError(err), err)
		return
	}
	c.Status(http.StatusAccepted)
}

// StreamEvents GET /v1/sessions/:id/events
// Pushes instance lifecycle transitions to the client over SSE.
func (h *SessionHandler) StreamEvents(c *gin.Context) {
	sessionID := c.Param("id")

	if _, err := h.svc.Get(c.Request.Context(), sessionID); err != nil {
		respondError(c, mapSessionError(err), err)
		return
	}

	eventCh, err := h.bus.Subscribe(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	// The server-wide WriteTimeout would cut this long-lived connection;
	// lift the deadline for this response only.
	rc := http.NewResponseController(c.Writer)
	_ = rc.SetWriteDeadline(time.Time{})

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-eventCh:
			if !ok {
				return false
			}
			data, err := json.Marshal(SSEEvent{
				Type:      string(event.Type),
				SessionID: event.SessionID,
				Payload:   event.Payload,
				Timestamp: formatTime(event.Timestamp),
			})
			if err != nil {
				return true
			}
			c.SSEvent("message", string(data))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
