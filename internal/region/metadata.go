package region

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultMetadataEndpoint is the instance metadata service of the node the
// control plane itself runs on.
const DefaultMetadataEndpoint = "http://169.254.169.254/opc/v2/instance/"

type instanceIdentity struct {
	ID string `json:"id"`
}

// LocalRegionCode asks the local node's metadata service for its own
// instance id and extracts the region code from it. This pins which region
// this deployment answers for.
func LocalRegionCode(ctx context.Context, client *http.Client, endpoint string) (string, error) {
	if endpoint == "" {
		endpoint = DefaultMetadataEndpoint
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer Oracle")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("metadata service: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("metadata service: unexpected status %d", resp.StatusCode)
	}

	var identity instanceIdentity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return "", fmt.Errorf("metadata service: %w", err)
	}

	code, err := CodeFromJobID(identity.ID)
	if err != nil {
		return "", fmt.Errorf("metadata service returned instance id %q: %w", identity.ID, err)
	}
	return code, nil
}
