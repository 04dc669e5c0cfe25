package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ClientStatus describes one agent connection.
type ClientStatus struct {
	ConnectedAt time.Time `json:"connected_at"`
	Remote      string    `json:"remote"`
	State       string    `json:"state"`
	Scene       string    `json:"scene"`
	Error       string    `json:"error,omitempty"`
	ID          int       `json:"id"`
	Healthy     bool      `json:"healthy"`
}

// SceneStatus describes one live scene.
type SceneStatus struct {
	ID         string `json:"id"`
	FrameIndex int32  `json:"frame_index"`
	HasFrame   bool   `json:"has_frame"`
}

// PairStatus describes the alignment evidence for one ordered scene pair.
type PairStatus struct {
	I        string  `json:"i"`
	J        string  `json:"j"`
	Samples  int     `json:"samples"`
	Clusters int     `json:"clusters"`
	Largest  int     `json:"largest_cluster"`
	Penalty  float64 `json:"penalty"`
	Solved   bool    `json:"solved"`
}

// SchedulerStatus reports the collaborative scheduler's counters.
type SchedulerStatus struct {
	Ticks      int `json:"ticks"`
	Attempts   int `json:"attempts"`
	Accepted   int `json:"accepted"`
	Rejected   int `json:"rejected"`
	Idle       int `json:"idle"`
	Abandoned  int `json:"abandoned"`
	Candidates int `json:"candidates"`
}

// Health is the coordinator's summary at /health.
type Health struct {
	Status    string          `json:"status"`
	Clients   int             `json:"clients"`
	Scenes    int             `json:"scenes"`
	Stored    int             `json:"stored_samples"`
	Scheduler SchedulerStatus `json:"scheduler"`
}

// ResetRequest asks the coordinator to clear scheduler state.
type ResetRequest struct {
	Penalties bool `json:"penalties"`
}

var httpClient = &http.Client{Timeout: 5 * time.Second}

// PostJSON sends body as JSON to url and decodes the JSON response into
// out. Non-2xx responses are returned as errors.
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetJSON fetches url and decodes the JSON response into out.
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
