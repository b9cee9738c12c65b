package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iwsa-dev/iwsa/internal/resilience"
	"github.com/iwsa-dev/iwsa/internal/types"
)

// remoteClient is the shared HTTP plumbing for remote backends: bearer
// auth, transient-error retries with exponential backoff, and mapping of
// vendor error bodies to a common error string.
type remoteClient struct {
	client *http.Client
	retry  resilience.RetryConfig
}

func newRemoteClient(timeout time.Duration, retryAttempts int) *remoteClient {
	retry := resilience.DefaultRetryConfig()
	if retryAttempts > 0 {
		retry.MaxAttempts = retryAttempts
	}
	return &remoteClient{
		client: &http.Client{Timeout: timeout},
		retry:  retry,
	}
}

// postJSON sends one JSON request with retries on transient failures.
// 4xx responses are permanent; network errors and 5xx are retried; a 503
// whose body mentions model loading waits the cold-start delay instead of
// the normal backoff step.
func (rc *remoteClient) postJSON(ctx context.Context, backend, url, apiKey string, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	return resilience.Retry(ctx, rc.retry, func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, resilience.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			return nil, &types.BackendError{Backend: backend, Err: err, Transient: true}
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, &types.BackendError{Backend: backend, Err: err, Transient: true}
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return respBody, nil
		case resp.StatusCode == http.StatusServiceUnavailable && isModelLoading(respBody):
			// Hosted-model cold start: wait longer than a normal backoff step.
			return nil, resilience.RetryAfter(20 * time.Second)
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, &types.BackendError{
				Backend:    backend,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%s", vendorErrorString(respBody)),
				Transient:  true,
			}
		default:
			return nil, resilience.Permanent(&types.BackendError{
				Backend:    backend,
				StatusCode: resp.StatusCode,
				Err:        fmt.Errorf("%s", vendorErrorString(respBody)),
			})
		}
	})
}

// vendorErrorString maps vendor-specific error bodies to one common string.
func vendorErrorString(body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch {
		case envelope.Error.Message != "":
			return envelope.Error.Message
		case envelope.Message != "":
			return envelope.Message
		case envelope.Detail != "":
			return envelope.Detail
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 300 {
		s = s[:300]
	}
	if s == "" {
		s = "empty error body"
	}
	return s
}

func isModelLoading(body []byte) bool {
	s := strings.ToLower(string(body))
	return strings.Contains(s, "loading") || strings.Contains(s, "currently loading")
}
