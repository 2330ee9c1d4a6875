package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"simcloud/internal/probe"
	"simcloud/internal/provider"
)

// ControllerConfig fixes what every instance launched in this region gets.
type ControllerConfig struct {
	// RegionName is the human-facing name of the local region. A launch
	// payload naming a different region is rejected.
	RegionName string
	// ProbePort is where the simulation server listens inside an instance.
	ProbePort int
	// Images maps runner kinds to boot images; DefaultImage covers the rest.
	Images       map[string]string
	DefaultImage string
	// BootstrapTarballURL is fetched and unpacked by the startup script.
	BootstrapTarballURL string
	// SSHAuthorizedKeys is injected for operator access to the VM.
	SSHAuthorizedKeys string
}

// Controller serves instance operations for the local region: it is the
// thing a Router reaches, directly when the request is local and through
// the /local/v1/instance endpoints when it is not.
type Controller struct {
	provisioner provider.Provisioner
	prober      probe.Prober
	cfg         ControllerConfig
	logger      *slog.Logger
}

func NewController(p provider.Provisioner, pr probe.Prober, cfg ControllerConfig, logger *slog.Logger) *Controller {
	return &Controller{
		provisioner: p,
		prober:      pr,
		cfg:         cfg,
		logger:      logger.With("component", "instance-controller"),
	}
}

// Launch provisions one instance for the descriptor and returns its job id.
// A capacity refusal surfaces as provider.ErrNotEnoughResources.
func (c *Controller) Launch(ctx context.Context, d Descriptor) (string, error) {
	if d.Region != "" && d.Region != c.cfg.RegionName {
		return "", fmt.Errorf("descriptor region %q does not match local region %q", d.Region, c.cfg.RegionName)
	}

	image := c.cfg.Images[d.Runner]
	if image == "" {
		image = c.cfg.DefaultImage
	}
	if image == "" {
		return "", fmt.Errorf("no boot image configured for runner %q", d.Runner)
	}

	spec := provider.LaunchSpec{
		DisplayName: provider.DisplayName(),
		Image:       image,
		Metadata:    c.bootMetadata(d),
	}

	jobID, err := c.provisioner.Launch(ctx, spec)
	if err != nil {
		return "", err
	}
	return jobID, nil
}

// Status reports the provider lifecycle state alongside the liveness of the
// simulation server inside. Uncertainty defaults to unavailable: a failed
// provider query reports UNKNOWN rather than an error.
func (c *Controller) Status(ctx context.Context, jobID string) Report {
	desc, err := c.provisioner.Describe(ctx, jobID)
	if err != nil {
		c.logger.Warn("Instance status unavailable", "job_id", jobID, "error", err)
		return Report{OCIState: string(provider.LifecycleUnknown)}
	}

	rep := Report{
		OCIState: string(desc.Lifecycle),
		Metadata: desc.Metadata,
	}
	if desc.PublicIP != "" {
		ip := desc.PublicIP
		rep.IP = &ip
		rep.NarupaStatus = c.prober.Probe(ctx, desc.PublicIP, c.cfg.ProbePort)
	}
	return rep
}

// Terminate requests deletion of the instance. provider.ErrInstanceNotFound
// means it was already gone.
func (c *Controller) Terminate(ctx context.Context, jobID string) error {
	return c.provisioner.Terminate(ctx, jobID)
}

// LaunchHTTP maps Launch onto the three-outcome wire format of
// POST /local/v1/instance.
func (c *Controller) LaunchHTTP(ctx context.Context, d Descriptor) (int, LaunchResponse) {
	jobID, err := c.Launch(ctx, d)
	switch {
	case err == nil:
		return http.StatusOK, LaunchResponse{Status: LaunchStatusSuccess, JobID: jobID}
	case errors.Is(err, provider.ErrNotEnoughResources):
		c.logger.Warn("Launch declined for capacity", "region", c.cfg.RegionName)
		return http.StatusOK, LaunchResponse{Status: LaunchStatusNoCapacity}
	default:
		c.logger.Error("Launch failed", "region", c.cfg.RegionName, "error", err)
		return http.StatusInternalServerError, LaunchResponse{Status: LaunchStatusFailed}
	}
}

// StatusHTTP maps Status onto GET /local/v1/instance/{job_id}.
func (c *Controller) StatusHTTP(ctx context.Context, jobID string) (int, Report) {
	return http.StatusOK, c.Status(ctx, jobID)
}

// TerminateHTTP maps Terminate onto DELETE /local/v1/instance/{job_id}.
// The response has no body; the status code carries the outcome.
func (c *Controller) TerminateHTTP(ctx context.Context, jobID string) int {
	err := c.Terminate(ctx, jobID)
	switch {
	case err == nil:
		return http.StatusNoContent
	case errors.Is(err, provider.ErrInstanceNotFound):
		return http.StatusNotFound
	default:
		c.logger.Error("Terminate failed", "job_id", jobID, "error", err)
		return http.StatusInternalServerError
	}
}

func (c *Controller) bootMetadata(d Descriptor) map[string]string {
	meta := map[string]string{
		"branch":   d.Branch,
		"runner":   d.Runner,
		"duration": strconv.FormatInt(d.Duration, 10),
		"end_time": d.EndTime,
		"timezone": d.Timezone,
	}
	if d.Simulation != "" {
		meta["simulation"] = d.Simulation
	}
	if d.Topology != "" {
		meta["topology"] = d.Topology
	}
	if d.Trajectory != "" {
		meta["trajectory"] = d.Trajectory
	}
	if c.cfg.SSHAuthorizedKeys != "" {
		meta["ssh_authorized_keys"] = c.cfg.SSHAuthorizedKeys
	}
	if c.cfg.BootstrapTarballURL != "" {
		meta["startup-script"] = "#!/bin/bash\n" +
			"wget -O bootstrap.tar \"" + c.cfg.BootstrapTarballURL + "\"\n" +
			"tar xf bootstrap.tar --strip-components=2\n" +
			"chmod +x start.sh\n" +
			"./start.sh"
	}
	return meta
}
