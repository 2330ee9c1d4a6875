package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/core"
)

// OCIConfig pins the launch parameters every instance in this region shares.
type OCIConfig struct {
	CompartmentID      string
	AvailabilityDomain string
	SubnetID           string
	Shape              string
}

// OCI provisions GPU-shaped compute instances through the OCI compute API.
// Job ids are the instance OCIDs the API assigns, which carry the region
// code in their fourth dot-segment.
type OCI struct {
	compute core.ComputeClient
	vnet    core.VirtualNetworkClient
	cfg     OCIConfig
	logger  *slog.Logger
}

var _ Provisioner = (*OCI)(nil)

func NewOCI(cp common.ConfigurationProvider, cfg OCIConfig, logger *slog.Logger) (*OCI, error) {
	compute, err := core.NewComputeClientWithConfigurationProvider(cp)
	if err != nil {
		return nil, fmt.Errorf("compute client: %w", err)
	}
	vnet, err := core.NewVirtualNetworkClientWithConfigurationProvider(cp)
	if err != nil {
		return nil, fmt.Errorf("virtual network client: %w", err)
	}
	return &OCI{
		compute: compute,
		vnet:    vnet,
		cfg:     cfg,
		logger:  logger.With("component", "oci-provisioner"),
	}, nil
}

func (o *OCI) Launch(ctx context.Context, spec LaunchSpec) (string, error) {
	details := core.LaunchInstanceDetails{
		AvailabilityDomain: common.String(o.cfg.AvailabilityDomain),
		CompartmentId:      common.String(o.cfg.CompartmentID),
		Shape:              common.String(o.cfg.Shape),
		DisplayName:        common.String(spec.DisplayName),
		Metadata:           spec.Metadata,
		SourceDetails: core.InstanceSourceViaImageDetails{
			ImageId: common.String(spec.Image),
		},
		CreateVnicDetails: &core.CreateVnicDetails{
			SubnetId:       common.String(o.cfg.SubnetID),
			AssignPublicIp: common.Bool(true),
		},
	}

	resp, err := o.compute.LaunchInstance(ctx, core.LaunchInstanceRequest{
		LaunchInstanceDetails: details,
	})
	if err != nil {
		return "", mapServiceError(err)
	}

	o.logger.Info("Instance launch requested",
		"job_id", *resp.Id, "display_name", spec.DisplayName)
	return *resp.Id, nil
}

func (o *OCI) Describe(ctx context.Context, jobID string) (Description, error) {
	resp, err := o.compute.GetInstance(ctx, core.GetInstanceRequest{
		InstanceId: common.String(jobID),
	})
	if err != nil {
		return Description{}, mapServiceError(err)
	}

	desc := Description{
		Lifecycle: mapLifecycle(resp.Instance.LifecycleState),
		Metadata:  resp.Instance.Metadata,
	}

	ip, err := o.publicIP(ctx, jobID, resp.Instance.CompartmentId)
	if err != nil {
		// The address shows up once the vnic is attached; report the
		// lifecycle state without it rather than failing the whole query.
		o.logger.Warn("Failed to resolve public IP", "job_id", jobID, "error", err)
	}
	desc.PublicIP = ip
	return desc, nil
}

func (o *OCI) Terminate(ctx context.Context, jobID string) error {
	_, err := o.compute.TerminateInstance(ctx, core.TerminateInstanceRequest{
		InstanceId: common.String(jobID),
	})
	if err != nil {
		return mapServiceError(err)
	}
	o.logger.Info("Instance termination requested", "job_id", jobID)
	return nil
}

func (o *OCI) publicIP(ctx context.Context, jobID string, compartmentID *string) (string, error) {
	attachments, err := o.compute.ListVnicAttachments(ctx, core.ListVnicAttachmentsRequest{
		CompartmentId: compartmentID,
		InstanceId:    common.String(jobID),
	})
	if err != nil {
		return "", err
	}
	if len(attachments.Items) == 0 {
		return "", nil
	}
	vnic, err := o.vnet.GetVnic(ctx, core.GetVnicRequest{
		VnicId: attachments.Items[0].VnicId,
	})
	if err != nil {
		return "", err
	}
	if vnic.PublicIp == nil {
		return "", nil
	}
	return *vnic.PublicIp, nil
}

func mapLifecycle(state core.InstanceLifecycleStateEnum) Lifecycle {
	switch state {
	case core.InstanceLifecycleStateProvisioning:
		return LifecycleProvisioning
	case core.InstanceLifecycleStateStarting,
		core.InstanceLifecycleStateCreatingImage,
		core.InstanceLifecycleStateMoving:
		return LifecycleStaging
	case core.InstanceLifecycleStateRunning:
		return LifecycleRunning
	case core.InstanceLifecycleStateStopping, core.InstanceLifecycleStateStopped:
		return LifecycleStopping
	case core.InstanceLifecycleStateTerminating, core.InstanceLifecycleStateTerminated:
		return LifecycleTerminated
	}
	return LifecycleUnknown
}

// capacityCodes are the provider error codes that mean "no GPUs for you
// right now" rather than "your request is broken".
var capacityCodes = map[string]bool{
	"LimitExceeded":     true,
	"QuotaExceeded":     true,
	"OutOfCapacity":     true,
	"OutOfHostCapacity": true,
}

func mapServiceError(err error) error {
	svcErr, ok := common.IsServiceError(err)
	if !ok {
		return err
	}
	if svcErr.GetHTTPStatusCode() == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, svcErr.GetMessage())
	}
	if capacityCodes[svcErr.GetCode()] {
		return fmt.Errorf("%w: %s", ErrNotEnoughResources, svcErr.GetMessage())
	}
	return err
}
