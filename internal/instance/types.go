package instance

// Descriptor is the workload descriptor delivered to a freshly launched
// instance. It is also the body of POST /local/v1/instance, so the field
// names are part of the wire format.
type Descriptor struct {
	Region     string `json:"region,omitempty"` // must match the local region if present
	Branch     string `json:"branch"`
	Runner     string `json:"runner"`
	Duration   int64  `json:"duration"` // seconds from warm-up to scheduled end
	EndTime    string `json:"end_time"`
	Timezone   string `json:"timezone"`
	Simulation string `json:"simulation,omitempty"`
	Topology   string `json:"topology,omitempty"`
	Trajectory string `json:"trajectory,omitempty"`
}

// Launch outcomes on the wire. These three are the only statuses a launch
// request can produce for a caller.
const (
	LaunchStatusSuccess    = "success"
	LaunchStatusNoCapacity = "not enough ressources"
	LaunchStatusFailed     = "failed"
)

type LaunchResponse struct {
	Status string `json:"status"`
	JobID  string `json:"jobid,omitempty"`
}

// Report is the body of GET /local/v1/instance/{job_id}. OCIState and
// NarupaStatus vary independently: the provider can report RUNNING while the
// simulation server inside is not answering yet, and vice versa.
type Report struct {
	OCIState     string            `json:"oci_state"`
	IP           *string           `json:"ip"`
	NarupaStatus bool              `json:"narupa_status"`
	Metadata     map[string]string `json:"metadata"`
}
