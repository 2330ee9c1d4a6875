package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"simcloud/internal/instance"
	"simcloud/internal/region"
)

// InstanceHandler carries both instance surfaces: the local endpoints every
// region serves for its own compute, and the region-agnostic facade that
// relays to whichever region owns the request. The facade writes the owning
// region's response bytes through untouched.
type InstanceHandler struct {
	local  region.LocalHandler
	router *region.Router
}

func NewInstanceHandler(local region.LocalHandler, router *region.Router) *InstanceHandler {
	return &InstanceHandler{local: local, router: router}
}

// LaunchLocal POST /local/v1/instance
func (h *InstanceHandler) LaunchLocal(c *gin.Context) {
	var d instance.Descriptor
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, instance.LaunchResponse{Status: instance.LaunchStatusFailed})
		return
	}
	code, resp := h.local.LaunchHTTP(c.Request.Context(), d)
	c.JSON(code, resp)
}

// StatusLocal GET /local/v1/instance/:job_id
func (h *InstanceHandler) StatusLocal(c *gin.Context) {
	code, rep := h.local.StatusHTTP(c.Request.Context(), c.Param("job_id"))
	c.JSON(code, rep)
}

// TerminateLocal DELETE /local/v1/instance/:job_id
func (h *InstanceHandler) TerminateLocal(c *gin.Context) {
	c.Status(h.local.TerminateHTTP(c.Request.Context(), c.Param("job_id")))
}

// Launch POST /v1/instance
func (h *InstanceHandler) Launch(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrInvalidRequest)
		return
	}

	var peek struct {
		Region string `json:"region"`
	}
	if err := json.Unmarshal(body, &peek); err != nil || peek.Region == "" {
		respondErrorWithDetails(c, http.StatusBadRequest, ErrInvalidRequest, "launch payload must name a region")
		return
	}

	code, raw, err := h.router.RouteLaunch(c.Request.Context(), peek.Region, body)
	if err != nil {
		h.respondRoutingError(c, err)
		return
	}
	c.Data(code, "application/json", raw)
}

// Status GET /v1/instance/:job_id
func (h *InstanceHandler) Status(c *gin.Context) {
	code, raw, err := h.router.RouteStatus(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.respondRoutingError(c, err)
		return
	}
	c.Data(code, "application/json", raw)
}

// Terminate DELETE /v1/instance/:job_id
func (h *InstanceHandler) Terminate(c *gin.Context) {
	code, raw, err := h.router.RouteTerminate(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		h.respondRoutingError(c, err)
		return
	}
	if len(raw) == 0 {
		c.Status(code)
		return
	}
	c.Data(code, "application/json", raw)
}

// A routing error means the caller named a region or job id this deployment
// cannot place; a transport error means the owning region is unreachable.
func (h *InstanceHandler) respondRoutingError(c *gin.Context, err error) {
	var re *region.RoutingError
	if errors.As(err, &re) {
		respondError(c, http.StatusBadRequest, err)
		return
	}
	respondError(c, http.StatusBadGateway, err)
}
