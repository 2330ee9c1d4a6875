package provider

import (
	"errors"
	"net/http"
	"testing"

	"github.com/oracle/oci-go-sdk/v65/core"
)

type stubServiceError struct {
	statusCode int
	code       string
	message    string
}

func (e stubServiceError) GetHTTPStatusCode() int  { return e.statusCode }
func (e stubServiceError) GetMessage() string      { return e.message }
func (e stubServiceError) GetCode() string         { return e.code }
func (e stubServiceError) GetOpcRequestID() string { return "req-1" }
func (e stubServiceError) Error() string           { return e.code + ": " + e.message }

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "limit exceeded is a capacity signal",
			err:  stubServiceError{statusCode: http.StatusBadRequest, code: "LimitExceeded", message: "gpu quota"},
			want: ErrNotEnoughResources,
		},
		{
			name: "out of host capacity is a capacity signal",
			err:  stubServiceError{statusCode: http.StatusInternalServerError, code: "OutOfHostCapacity", message: "no hosts"},
			want: ErrNotEnoughResources,
		},
		{
			name: "404 is not found",
			err:  stubServiceError{statusCode: http.StatusNotFound, code: "NotAuthorizedOrNotFound", message: "gone"},
			want: ErrInstanceNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapServiceError(tt.err)
			if !errors.Is(got, tt.want) {
				t.Errorf("mapServiceError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	t.Run("other service errors pass through", func(t *testing.T) {
		err := stubServiceError{statusCode: http.StatusUnauthorized, code: "NotAuthenticated", message: "bad key"}
		got := mapServiceError(err)
		if errors.Is(got, ErrNotEnoughResources) || errors.Is(got, ErrInstanceNotFound) {
			t.Errorf("mapServiceError(%v) = %v, want the original error", err, got)
		}
	})

	t.Run("non-service errors pass through", func(t *testing.T) {
		err := errors.New("connection reset")
		if got := mapServiceError(err); got != err {
			t.Errorf("mapServiceError(%v) = %v", err, got)
		}
	})
}

func TestMapLifecycle(t *testing.T) {
	tests := []struct {
		state core.InstanceLifecycleStateEnum
		want  Lifecycle
	}{
		{core.InstanceLifecycleStateProvisioning, LifecycleProvisioning},
		{core.InstanceLifecycleStateStarting, LifecycleStaging},
		{core.InstanceLifecycleStateRunning, LifecycleRunning},
		{core.InstanceLifecycleStateStopping, LifecycleStopping},
		{core.InstanceLifecycleStateStopped, LifecycleStopping},
		{core.InstanceLifecycleStateTerminating, LifecycleTerminated},
		{core.InstanceLifecycleStateTerminated, LifecycleTerminated},
		{core.InstanceLifecycleStateEnum("SOMETHING_NEW"), LifecycleUnknown},
	}
	for _, tt := range tests {
		if got := mapLifecycle(tt.state); got != tt.want {
			t.Errorf("mapLifecycle(%s) = %s, want %s", tt.state, got, tt.want)
		}
	}
}

func TestLifecycleAvailable(t *testing.T) {
	available := []Lifecycle{LifecycleProvisioning, LifecycleStaging, LifecycleRunning}
	for _, l := range available {
		if !l.Available() {
			t.Errorf("%s.Available() = false", l)
		}
	}
	unavailable := []Lifecycle{LifecycleStopping, LifecycleTerminated, LifecycleUnknown}
	for _, l := range unavailable {
		if l.Available() {
			t.Errorf("%s.Available() = true", l)
		}
	}
}
