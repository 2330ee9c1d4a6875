package region_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"simcloud/internal/instance"
	"simcloud/internal/provider"
	"simcloud/internal/region"
)

type fakeLocal struct {
	launched   []instance.Descriptor
	statusFor  map[string]instance.Report
	terminated []string
}

func (f *fakeLocal) LaunchHTTP(ctx context.Context, d instance.Descriptor) (int, instance.LaunchResponse) {
	f.launched = append(f.launched, d)
	return http.StatusOK, instance.LaunchResponse{
		Status: instance.LaunchStatusSuccess,
		JobID:  "ocid1.instance.oc1.eu-frankfurt-1.local0001",
	}
}

func (f *fakeLocal) StatusHTTP(ctx context.Context, jobID string) (int, instance.Report) {
	if rep, ok := f.statusFor[jobID]; ok {
		return http.StatusOK, rep
	}
	return http.StatusOK, instance.Report{OCIState: "UNKNOWN"}
}

func (f *fakeLocal) TerminateHTTP(ctx context.Context, jobID string) int {
	f.terminated = append(f.terminated, jobID)
	return http.StatusNoContent
}

type recordedRequest struct {
	method string
	path   string
	body   []byte
}

func newTestRouter(t *testing.T, local *fakeLocal, remoteHandler http.HandlerFunc) (*region.Router, *[]recordedRequest) {
	t.Helper()

	var seen []recordedRequest
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen = append(seen, recordedRequest{method: r.Method, path: r.URL.Path, body: body})
		remoteHandler(w, r)
	}))
	t.Cleanup(remote.Close)

	registry := region.NewRegistry([]region.Region{
		{Name: "Frankfurt", Code: "eu-frankfurt-1", Endpoint: "http://unused.invalid"},
		{Name: "Ashburn", Code: "us-ashburn-1", Endpoint: remote.URL},
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return region.NewRouter(registry, "eu-frankfurt-1", local, remote.Client(), logger), &seen
}

func TestRouteLaunchForwardsVerbatim(t *testing.T) {
	local := &fakeLocal{}
	remoteResp := []byte(`{"status":"success","jobid":"ocid1.instance.oc1.us-ashburn-1.remote42"}`)
	router, seen := newTestRouter(t, local, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(remoteResp)
	})

	body := []byte(`{"region":"Ashburn","branch":"main","runner":"ase","duration":3600,"end_time":"2026-09-01T18:00:00","timezone":"Europe/Berlin","simulation":"https://example.com/sim.xml"}`)
	code, raw, err := router.RouteLaunch(context.Background(), "Ashburn", body)
	if err != nil {
		t.Fatalf("RouteLaunch failed: %v", err)
	}
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if string(raw) != string(remoteResp) {
		t.Errorf("response body altered in transit:\ngot  %s\nwant %s", raw, remoteResp)
	}

	if len(*seen) != 1 {
		t.Fatalf("remote saw %d requests, want 1", len(*seen))
	}
	req := (*seen)[0]
	if req.method != http.MethodPost || req.path != "/local/v1/instance" {
		t.Errorf("forwarded as %s %s, want POST /local/v1/instance", req.method, req.path)
	}
	if string(req.body) != string(body) {
		t.Errorf("request body altered in transit:\ngot  %s\nwant %s", req.body, body)
	}
	if len(local.launched) != 0 {
		t.Error("local handler was invoked for a remote region")
	}
}

func TestRouteLaunchLocalDispatch(t *testing.T) {
	local := &fakeLocal{}
	router, seen := newTestRouter(t, local, func(w http.ResponseWriter, r *http.Request) {})

	body := []byte(`{"region":"Frankfurt","branch":"main","runner":"static","duration":1800,"end_time":"2026-09-01T12:00:00","timezone":"Europe/Berlin","topology":"https://example.com/top.pdb"}`)
	code, raw, err := router.RouteLaunch(context.Background(), "Frankfurt", body)
	if err != nil {
		t.Fatalf("RouteLaunch failed: %v", err)
	}
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}

	var resp instance.LaunchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		t.Fatalf("undecodable local response %s: %v", raw, err)
	}
	if resp.Status != instance.LaunchStatusSuccess || resp.JobID == "" {
		t.Errorf("local launch response = %+v", resp)
	}

	if len(local.launched) != 1 {
		t.Fatalf("local handler invoked %d times, want 1", len(local.launched))
	}
	if local.launched[0].Runner != "static" {
		t.Errorf("descriptor runner = %q, want static", local.launched[0].Runner)
	}
	if len(*seen) != 0 {
		t.Error("remote region was contacted for a local launch")
	}
}

func TestRouteStatusByJobID(t *testing.T) {
	ip := "203.0.113.7"
	local := &fakeLocal{statusFor: map[string]instance.Report{
		"ocid1.instance.oc1.eu-frankfurt-1.local0001": {OCIState: "RUNNING", IP: &ip, NarupaStatus: true},
	}}
	router, seen := newTestRouter(t, local, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"oci_state":"RUNNING","ip":"198.51.100.9","narupa_status":false,"metadata":{}}`))
	})

	rep, err := router.Status(context.Background(), "ocid1.instance.oc1.eu-frankfurt-1.local0001")
	if err != nil {
		t.Fatalf("local Status failed: %v", err)
	}
	if !rep.NarupaStatus || rep.IP == nil || *rep.IP != ip {
		t.Errorf("local report = %+v", rep)
	}

	rep, err = router.Status(context.Background(), "ocid1.instance.oc1.us-ashburn-1.remote42")
	if err != nil {
		t.Fatalf("remote Status failed: %v", err)
	}
	if rep.NarupaStatus || rep.IP == nil || *rep.IP != "198.51.100.9" {
		t.Errorf("remote report = %+v", rep)
	}
	if len(*seen) != 1 {
		t.Fatalf("remote saw %d requests, want 1", len(*seen))
	}
	if (*seen)[0].method != http.MethodGet {
		t.Errorf("forwarded method = %s, want GET", (*seen)[0].method)
	}
}

func TestRouteTerminate(t *testing.T) {
	local := &fakeLocal{}
	router, seen := newTestRouter(t, local, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	if err := router.Terminate(context.Background(), "ocid1.instance.oc1.eu-frankfurt-1.local0001"); err != nil {
		t.Fatalf("local Terminate failed: %v", err)
	}
	if len(local.terminated) != 1 {
		t.Fatalf("local handler terminated %d instances, want 1", len(local.terminated))
	}

	err := router.Terminate(context.Background(), "ocid1.instance.oc1.us-ashburn-1.gone")
	if !errors.Is(err, provider.ErrInstanceNotFound) {
		t.Errorf("remote 404 mapped to %v, want ErrInstanceNotFound", err)
	}
	if len(*seen) != 1 || (*seen)[0].method != http.MethodDelete {
		t.Errorf("remote terminate not forwarded as DELETE: %+v", *seen)
	}
}

func TestRoutingErrors(t *testing.T) {
	local := &fakeLocal{}
	router, _ := newTestRouter(t, local, func(w http.ResponseWriter, r *http.Request) {})

	_, _, err := router.RouteLaunch(context.Background(), "Atlantis", []byte(`{}`))
	var re *region.RoutingError
	if !errors.As(err, &re) {
		t.Errorf("unknown region error = %v, want RoutingError", err)
	}

	_, _, err = router.RouteStatus(context.Background(), "not-a-job-id")
	if !errors.As(err, &re) {
		t.Errorf("malformed job id error = %v, want RoutingError", err)
	}
}
