package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Inference can take minutes for video generation.
const remoteTimeout = 10 * time.Minute

// Remote sends inference requests over HTTP to a GPU server (typically a
// Colab instance behind a tunnel). The URL is resolved per call so config
// changes take effect without a restart.
type Remote struct {
	url    func() string
	client *http.Client
	ping   *http.Client
}

// NewRemote returns a remote runner. url is called before each request and
// may return "" when no server is configured.
func NewRemote(url func() string) *Remote {
	return &Remote{
		url:    url,
		client: &http.Client{Timeout: remoteTimeout},
		ping:   &http.Client{Timeout: 5 * time.Second},
	}
}

func (r *Remote) baseURL() string {
	return strings.TrimRight(r.url(), "/")
}

func (r *Remote) Available(ctx context.Context) bool {
	base := r.baseURL()
	if base == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.ping.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Health reports the remote server's health document, or a synthetic status
// when the server is unconfigured or unreachable.
func (r *Remote) Health(ctx context.Context) Result {
	base := r.baseURL()
	if base == "" {
		return Result{"status": "not_configured"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return Result{"status": "unreachable", "error": err.Error()}
	}
	resp, err := r.ping.Do(req)
	if err != nil {
		return Result{"status": "unreachable", "error": err.Error()}
	}
	defer resp.Body.Close()

	var health Result
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return Result{"status": "unreachable", "error": err.Error()}
	}
	return health
}

func (r *Remote) Run(ctx context.Context, action string, params map[string]any) Result {
	base := r.baseURL()
	if base == "" {
		return failure("Remote inference URL not configured. Set inference.remote_url in config.")
	}

	payload := map[string]any{"action": action}
	for k, v := range params {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return failure("Remote inference error: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/infer", bytes.NewReader(body))
	if err != nil {
		return failure("Remote inference error: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded || strings.Contains(err.Error(), "Client.Timeout") {
			return failure("Remote inference timed out (10 min limit)")
		}
		return failure("Remote inference error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failure("Remote server error: %d", resp.StatusCode)
	}
	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return failure("Remote inference error: %v", err)
	}
	return normalize(result)
}

// ClearModels asks the remote server to drop cached models and free VRAM.
func (r *Remote) ClearModels(ctx context.Context) Result {
	base := r.baseURL()
	if base == "" {
		return failure("Remote inference URL not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/clear", nil)
	if err != nil {
		return failure("%v", err)
	}
	resp, err := r.ping.Do(req)
	if err != nil {
		return failure("%v", err)
	}
	defer resp.Body.Close()

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return failure("%v", err)
	}
	return result
}
