package region

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Region is one row of the static routing table: a human-facing name, the
// region code that appears inside job ids, and the control endpoint of the
// deployment running there.
type Region struct {
	Name     string `json:"name"`
	Code     string `json:"code"`
	Endpoint string `json:"endpoint"`
}

// RoutingError means a request could not be mapped onto a registered region:
// either the region code is absent from the registry or the job id is
// malformed. It is never silently ignored.
type RoutingError struct {
	Region string
	JobID  string
	Reason string
}

func (e *RoutingError) Error() string {
	switch {
	case e.JobID != "":
		return fmt.Sprintf("routing error: job id %q: %s", e.JobID, e.Reason)
	case e.Region != "":
		return fmt.Sprintf("routing error: region %q: %s", e.Region, e.Reason)
	}
	return "routing error: " + e.Reason
}

// Registry is the static region table. It is built once at startup and read
// concurrently without locking.
type Registry struct {
	byName map[string]Region
	byCode map[string]Region
}

func NewRegistry(regions []Region) *Registry {
	r := &Registry{
		byName: make(map[string]Region, len(regions)),
		byCode: make(map[string]Region, len(regions)),
	}
	for _, reg := range regions {
		r.byName[reg.Name] = reg
		r.byCode[reg.Code] = reg
	}
	return r
}

// ParseRegions decodes a JSON region table, as carried by the REGION_TABLE
// environment variable.
func ParseRegions(raw string) ([]Region, error) {
	var regions []Region
	if err := json.Unmarshal([]byte(raw), &regions); err != nil {
		return nil, fmt.Errorf("invalid region table: %w", err)
	}
	for _, reg := range regions {
		if reg.Name == "" || reg.Code == "" {
			return nil, fmt.Errorf("region table entries need both name and code")
		}
	}
	return regions, nil
}

// DefaultRegions is the deployment footprint used when no table is
// configured.
func DefaultRegions() []Region {
	return []Region{
		{Name: "Frankfurt", Code: "eu-frankfurt-1", Endpoint: "https://frankfurt.simcloud.internal"},
		{Name: "London", Code: "uk-london-1", Endpoint: "https://london.simcloud.internal"},
		{Name: "Ashburn", Code: "us-ashburn-1", Endpoint: "https://ashburn.simcloud.internal"},
		{Name: "Phoenix", Code: "us-phoenix-1", Endpoint: "https://phoenix.simcloud.internal"},
	}
}

func (r *Registry) ByName(name string) (Region, bool) {
	reg, ok := r.byName[name]
	return reg, ok
}

func (r *Registry) ByCode(code string) (Region, bool) {
	reg, ok := r.byCode[code]
	return reg, ok
}

func (r *Registry) HasName(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// jobIDRegionSegment is the dot-separated segment of a job id that carries
// the region code, e.g. "ocid1.instance.oc1.eu-frankfurt-1.<suffix>".
const jobIDRegionSegment = 3

// minimum segments for a well-formed job id: prefix, type, realm, region,
// unique suffix.
const jobIDMinSegments = 5

// FromJobID resolves the region owning a job id from the fixed-position
// region-code segment. This is the sole mechanism for stateless cross-region
// routing.
func (r *Registry) FromJobID(jobID string) (Region, error) {
	parts := strings.Split(jobID, ".")
	if len(parts) < jobIDMinSegments || parts[jobIDRegionSegment] == "" {
		return Region{}, &RoutingError{JobID: jobID, Reason: "malformed job id"}
	}
	code := parts[jobIDRegionSegment]
	reg, ok := r.byCode[code]
	if !ok {
		return Region{}, &RoutingError{JobID: jobID, Reason: fmt.Sprintf("region code %q not registered", code)}
	}
	return reg, nil
}

// CodeFromJobID extracts the raw region-code segment without consulting the
// registry. Used to stamp region codes into synthesized job ids.
func CodeFromJobID(jobID string) (string, error) {
	parts := strings.Split(jobID, ".")
	if len(parts) < jobIDMinSegments || parts[jobIDRegionSegment] == "" {
		return "", &RoutingError{JobID: jobID, Reason: "malformed job id"}
	}
	return parts[jobIDRegionSegment], nil
}
