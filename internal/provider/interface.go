package provider

import (
	"context"
	"errors"
)

// Lifecycle is the canonical provider-side instance state.
type Lifecycle string

const (
	LifecycleProvisioning Lifecycle = "PROVISIONING"
	LifecycleStaging      Lifecycle = "STAGING"
	LifecycleRunning      Lifecycle = "RUNNING"
	LifecycleStopping     Lifecycle = "STOPPING"
	LifecycleTerminated   Lifecycle = "TERMINATED"
	LifecycleUnknown      Lifecycle = "UNKNOWN"
)

// Available reports whether the state means the instance is coming up or up.
// Anything else is a launch that went sideways.
func (l Lifecycle) Available() bool {
	return l == LifecycleProvisioning || l == LifecycleStaging || l == LifecycleRunning
}

var (
	// ErrNotEnoughResources is the provider's capacity or limit signal. It is
	// surfaced to users as retry-later, never as a generic failure.
	ErrNotEnoughResources = errors.New("not enough resources")

	// ErrInstanceNotFound means the instance no longer exists at the
	// provider. Terminating an already-absent instance is not a hard failure.
	ErrInstanceNotFound = errors.New("instance not found")
)

// LaunchSpec describes one GPU compute instance to launch. Metadata is the
// workload descriptor delivered as boot metadata and consumed by the startup
// script on the VM.
type LaunchSpec struct {
	DisplayName string
	Image       string
	Metadata    map[string]string
}

// Description is a provider-side snapshot of a launched instance.
type Description struct {
	Lifecycle Lifecycle
	PublicIP  string
	Metadata  map[string]string
}

// Provisioner talks to one cloud compute API in one region.
type Provisioner interface {
	// Launch requests a new instance and returns its job id. The job id is
	// globally unique and encodes the owning region's code.
	Launch(ctx context.Context, spec LaunchSpec) (string, error)
	Describe(ctx context.Context, jobID string) (Description, error)
	Terminate(ctx context.Context, jobID string) error
}
