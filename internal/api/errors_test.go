package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"simcloud/internal/session"
)

func TestMapSessionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"not found", session.ErrNotFound, http.StatusNotFound},
		{"conflict", session.ErrVersionConflict, http.StatusConflict},
		{"validation", fmt.Errorf("%w: location is required", session.ErrInvalidSession), http.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("update: %w", fmt.Errorf("%w: bad timezone", session.ErrInvalidSession)), http.StatusBadRequest},
		{"store fault", errors.New("pg: connection refused"), http.StatusInternalServerError},
		{"store fault mentioning required", errors.New("relation missing required index"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapSessionError(tt.err); got != tt.want {
				t.Errorf("mapSessionError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
