package session

import (
	"fmt"

	"simcloud/internal/instance"
)

// RunnerKind selects how the instance runs the simulation and which asset
// URLs the workload descriptor must carry. The set is closed; anything else
// is rejected when the descriptor is built.
type RunnerKind string

const (
	// RunnerASE and RunnerOMM run from a single simulation config file.
	RunnerASE RunnerKind = "ase"
	RunnerOMM RunnerKind = "omm"
	// RunnerStatic serves a static topology.
	RunnerStatic RunnerKind = "static"
	// RunnerTrajectory replays a recorded trajectory over a topology.
	RunnerTrajectory RunnerKind = "trajectory"
)

func ParseRunnerKind(s string) (RunnerKind, error) {
	switch RunnerKind(s) {
	case RunnerASE, RunnerOMM, RunnerStatic, RunnerTrajectory:
		return RunnerKind(s), nil
	}
	return "", fmt.Errorf("unknown runner kind %q", s)
}

// Descriptor builds the workload descriptor for the session's simulation.
// Each runner kind requires exactly its own subset of asset URLs.
func (s *Session) Descriptor() (instance.Descriptor, error) {
	if s.Simulation == nil {
		return instance.Descriptor{}, fmt.Errorf("session %s has no simulation", s.ID)
	}

	duration, err := s.RunDuration()
	if err != nil {
		return instance.Descriptor{}, err
	}

	d := instance.Descriptor{
		Branch:   s.Branch,
		Runner:   string(s.Simulation.Runner),
		Duration: duration,
		EndTime:  s.EndAt,
		Timezone: s.Timezone,
	}

	sim := s.Simulation
	switch sim.Runner {
	case RunnerASE, RunnerOMM:
		if sim.ConfigURL == "" {
			return instance.Descriptor{}, fmt.Errorf("runner %s requires a config URL", sim.Runner)
		}
		d.Simulation = sim.ConfigURL
	case RunnerStatic:
		if sim.TopologyURL == "" {
			return instance.Descriptor{}, fmt.Errorf("runner %s requires a topology URL", sim.Runner)
		}
		d.Topology = sim.TopologyURL
	case RunnerTrajectory:
		if sim.TopologyURL == "" || sim.TrajectoryURL == "" {
			return instance.Descriptor{}, fmt.Errorf("runner %s requires topology and trajectory URLs", sim.Runner)
		}
		d.Topology = sim.TopologyURL
		d.Trajectory = sim.TrajectoryURL
	default:
		return instance.Descriptor{}, fmt.Errorf("unknown runner kind %q", sim.Runner)
	}

	return d, nil
}
