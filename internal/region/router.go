package region

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"simcloud/internal/instance"
	"simcloud/internal/monitor"
	"simcloud/internal/provider"
)

// LocalHandler serves instance operations for the region this deployment
// runs in. It produces exactly the wire responses the remote side would see,
// so local dispatch and forwarding are interchangeable for callers.
type LocalHandler interface {
	LaunchHTTP(ctx context.Context, d instance.Descriptor) (int, instance.LaunchResponse)
	StatusHTTP(ctx context.Context, jobID string) (int, instance.Report)
	TerminateHTTP(ctx context.Context, jobID string) int
}

// Router resolves the region owning a request and either executes it locally
// or forwards it verbatim to the owning region's control endpoint. It is
// stateless and never retries; transport failures propagate to the caller.
type Router struct {
	registry  *Registry
	localCode string
	local     LocalHandler
	client    *http.Client
	logger    *slog.Logger
}

func NewRouter(registry *Registry, localCode string, local LocalHandler, client *http.Client, logger *slog.Logger) *Router {
	if client == nil {
		client = http.DefaultClient
	}
	return &Router{
		registry:  registry,
		localCode: localCode,
		local:     local,
		client:    client,
		logger:    logger.With("component", "region-router"),
	}
}

// LocalCode is the region code this deployment answers for.
func (r *Router) LocalCode() string { return r.localCode }

// Resolve maps a region name onto its registry entry and reports whether it
// is the local region.
func (r *Router) Resolve(regionName string) (Region, bool, error) {
	reg, ok := r.registry.ByName(regionName)
	if !ok {
		return Region{}, false, &RoutingError{Region: regionName, Reason: "not in registry"}
	}
	return reg, reg.Code == r.localCode, nil
}

// ResolveJobID maps a job id onto its owning region entry.
func (r *Router) ResolveJobID(jobID string) (Region, bool, error) {
	reg, err := r.registry.FromJobID(jobID)
	if err != nil {
		return Region{}, false, err
	}
	return reg, reg.Code == r.localCode, nil
}

// RouteLaunch routes a raw launch body to the named region and returns the
// HTTP status and body exactly as the owning region produced them.
func (r *Router) RouteLaunch(ctx context.Context, regionName string, body []byte) (int, []byte, error) {
	reg, local, err := r.Resolve(regionName)
	if err != nil {
		return 0, nil, err
	}
	if local {
		var d instance.Descriptor
		if err := json.Unmarshal(body, &d); err != nil {
			return 0, nil, fmt.Errorf("invalid launch payload: %w", err)
		}
		code, resp := r.local.LaunchHTTP(ctx, d)
		raw, _ := json.Marshal(resp)
		return code, raw, nil
	}
	return r.forward(ctx, http.MethodPost, reg, instancePath(""), body)
}

// RouteStatus routes a status query to the region owning the job id.
func (r *Router) RouteStatus(ctx context.Context, jobID string) (int, []byte, error) {
	reg, local, err := r.ResolveJobID(jobID)
	if err != nil {
		return 0, nil, err
	}
	if local {
		code, rep := r.local.StatusHTTP(ctx, jobID)
		raw, _ := json.Marshal(rep)
		return code, raw, nil
	}
	return r.forward(ctx, http.MethodGet, reg, instancePath(jobID), nil)
}

// RouteTerminate routes a terminate request to the region owning the job id.
func (r *Router) RouteTerminate(ctx context.Context, jobID string) (int, []byte, error) {
	reg, local, err := r.ResolveJobID(jobID)
	if err != nil {
		return 0, nil, err
	}
	if local {
		return r.local.TerminateHTTP(ctx, jobID), nil, nil
	}
	return r.forward(ctx, http.MethodDelete, reg, instancePath(jobID), nil)
}

// Launch is the typed entry point used by the scheduler. A capacity outcome
// is a valid response, not an error; anything undecodable is.
func (r *Router) Launch(ctx context.Context, regionName string, d instance.Descriptor) (instance.LaunchResponse, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return instance.LaunchResponse{}, err
	}
	_, raw, err := r.RouteLaunch(ctx, regionName, body)
	if err != nil {
		return instance.LaunchResponse{}, err
	}
	var resp instance.LaunchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return instance.LaunchResponse{}, fmt.Errorf("launch response from %q: %w", regionName, err)
	}
	if resp.Status == "" {
		return instance.LaunchResponse{}, fmt.Errorf("launch response from %q has no status", regionName)
	}
	return resp, nil
}

// Status is the typed status query used by the scheduler.
func (r *Router) Status(ctx context.Context, jobID string) (instance.Report, error) {
	_, raw, err := r.RouteStatus(ctx, jobID)
	if err != nil {
		return instance.Report{}, err
	}
	var rep instance.Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		return instance.Report{}, fmt.Errorf("status response for %q: %w", jobID, err)
	}
	return rep, nil
}

// Terminate is the typed terminate used by the termination worker. An
// already-absent instance surfaces as provider.ErrInstanceNotFound, which
// callers treat as done.
func (r *Router) Terminate(ctx context.Context, jobID string) error {
	code, _, err := r.RouteTerminate(ctx, jobID)
	if err != nil {
		return err
	}
	switch {
	case code == http.StatusNotFound:
		return provider.ErrInstanceNotFound
	case code >= 400:
		return fmt.Errorf("terminate %q: unexpected status %d", jobID, code)
	}
	return nil
}

func instancePath(jobID string) string {
	if jobID == "" {
		return "/local/v1/instance"
	}
	return "/local/v1/instance/" + jobID
}

func (r *Router) forward(ctx context.Context, method string, reg Region, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reg.Endpoint+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	r.logger.Debug("Forwarding to remote region",
		"method", method, "region", reg.Name, "path", path)
	monitor.RouterForwardsTotal.Inc()

	resp, err := r.client.Do(req)
	if err != nil {
		monitor.RouterForwardErrors.Inc()
		return 0, nil, fmt.Errorf("forward to %s: %w", reg.Name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		monitor.RouterForwardErrors.Inc()
		return 0, nil, fmt.Errorf("forward to %s: %w", reg.Name, err)
	}
	return resp.StatusCode, raw, nil
}
