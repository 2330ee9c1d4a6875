package provider

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
)

// DockerConfig configures the single-node development provisioner.
type DockerConfig struct {
	// RegionCode is stamped into synthesized job ids so routing behaves the
	// same as with real provider ids.
	RegionCode  string
	NetworkName string
	MemoryMB    int64
	CPU         float64
}

// Docker stands in for the cloud compute API on a developer machine: every
// "instance" is a local container carrying the workload descriptor as
// environment variables. Job ids keep the dot-segment layout of real ids.
type Docker struct {
	client *client.Client
	cfg    DockerConfig
	logger *slog.Logger
}

var _ Provisioner = (*Docker)(nil)

func NewDocker(cli *client.Client, cfg DockerConfig, logger *slog.Logger) *Docker {
	return &Docker{
		client: cli,
		cfg:    cfg,
		logger: logger.With("component", "docker-provisioner"),
	}
}

func (d *Docker) Launch(ctx context.Context, spec LaunchSpec) (string, error) {
	if _, err := d.client.ImageInspect(ctx, spec.Image); errdefs.IsNotFound(err) {
		d.logger.Info("Image not found, pulling", "image", spec.Image)
		reader, err := d.client.ImagePull(ctx, spec.Image, image.PullOptions{})
		if err != nil {
			return "", fmt.Errorf("pull image: %w", err)
		}
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
	} else if err != nil {
		return "", fmt.Errorf("inspect image: %w", err)
	}

	env := make([]string, 0, len(spec.Metadata))
	for k, v := range spec.Metadata {
		env = append(env, k+"="+v)
	}

	config := &container.Config{
		Image: spec.Image,
		Env:   env,
		Labels: map[string]string{
			"managed_by": "simcloud",
		},
	}
	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:   d.cfg.MemoryMB * 1024 * 1024,
			NanoCPUs: int64(d.cfg.CPU * 1e9),
		},
	}
	netConfig := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			d.cfg.NetworkName: {},
		},
	}

	resp, err := d.client.ContainerCreate(ctx, config, hostConfig, netConfig, nil, spec.DisplayName)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = d.client.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("start container: %w", err)
	}

	jobID := d.jobID(resp.ID)
	d.logger.Info("Container launched", "job_id", jobID, "display_name", spec.DisplayName)
	return jobID, nil
}

func (d *Docker) Describe(ctx context.Context, jobID string) (Description, error) {
	containerID, err := d.containerID(jobID)
	if err != nil {
		return Description{}, err
	}

	inspect, err := d.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return Description{}, ErrInstanceNotFound
		}
		return Description{}, fmt.Errorf("inspect container: %w", err)
	}

	desc := Description{
		Lifecycle: mapContainerState(inspect.State.Status),
		Metadata:  inspect.Config.Labels,
	}
	if net, ok := inspect.NetworkSettings.Networks[d.cfg.NetworkName]; ok {
		desc.PublicIP = net.IPAddress
	} else {
		for _, n := range inspect.NetworkSettings.Networks {
			desc.PublicIP = n.IPAddress
			break
		}
	}
	return desc, nil
}

func (d *Docker) Terminate(ctx context.Context, jobID string) error {
	containerID, err := d.containerID(jobID)
	if err != nil {
		return err
	}
	if err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return ErrInstanceNotFound
		}
		return fmt.Errorf("remove container: %w", err)
	}
	d.logger.Info("Container removed", "job_id", jobID)
	return nil
}

// DisplayName generates a collision-safe instance name for one launch.
func DisplayName() string {
	return "sim-" + uuid.NewString()[:8]
}

func (d *Docker) jobID(containerID string) string {
	return "ocid1.instance.dev." + d.cfg.RegionCode + "." + containerID
}

func (d *Docker) containerID(jobID string) (string, error) {
	parts := strings.Split(jobID, ".")
	if len(parts) < 5 || parts[len(parts)-1] == "" {
		return "", fmt.Errorf("%w: malformed job id %q", ErrInstanceNotFound, jobID)
	}
	return parts[len(parts)-1], nil
}

func mapContainerState(state container.ContainerState) Lifecycle {
	switch state {
	case "created":
		return LifecycleProvisioning
	case "restarting":
		return LifecycleStaging
	case "running":
		return LifecycleRunning
	case "paused", "removing":
		return LifecycleStopping
	case "exited", "dead":
		return LifecycleTerminated
	}
	return LifecycleUnknown
}
