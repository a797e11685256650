package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nvstream/gfn-client/internal/errs"
	"github.com/nvstream/gfn-client/internal/httputil"
)

// apiClient is the bearer-authenticated REST client for the GFN session
// API: typed request/response structs, an Authorization header, and a
// shared *http.Client.
type apiClient struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	retry      httputil.RetryConfig
}

func newAPIClient(baseURL, authToken string) *apiClient {
	return &apiClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		retry: httputil.DefaultRetryConfig(),
	}
}

type createSessionRequest struct {
	AppID           uint32  `json:"app_id"`
	StoreType       string  `json:"store_type"`
	StoreID         string  `json:"store_id"`
	PreferredServer string  `json:"preferred_server,omitempty"`
	Resolution      string  `json:"resolution"`
	FPS             int     `json:"fps"`
	Codec           string  `json:"codec"`
	MaxBitrateMbps  float64 `json:"max_bitrate_mbps"`
	Reflex          bool    `json:"reflex"`
}

type sessionResponse struct {
	SessionID    string `json:"sessionId"`
	SignalingURL string `json:"signalingUrl"`
	Server       struct {
		IP string `json:"ip"`
		ID string `json:"id"`
	} `json:"server"`
	Status         int              `json:"status"`
	QueuePosition  int              `json:"queue_position"`
	ETAMillis      int              `json:"eta_ms"`
	SignalingURL2  string           `json:"signaling_url"`
	ConnectionInfo []ConnectionInfo `json:"connection_info"`
	GpuType        string           `json:"gpu_type"`
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r *sessionResponse) toSession(sessionID string, appID uint32) *Session {
	url := r.SignalingURL
	if url == "" {
		url = r.SignalingURL2
	}
	return &Session{
		SessionID:      sessionID,
		AppID:          appID,
		Status:         Status(r.Status),
		GpuType:        r.GpuType,
		SignalingURL:   url,
		ConnectionInfo: r.ConnectionInfo,
		QueuePosition:  r.QueuePosition,
		ETAMillis:      r.ETAMillis,
	}
}

func (c *apiClient) headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "GFNJWT "+c.authToken)
	return h
}

// createSession issues POST /session. Retryable network/5xx errors are
// handled by httputil.Do; REGION_NOT_SUPPORTED*/SESSION_LIMIT_EXCEEDED are
// mapped to typed, non-retryable errors here.
func (c *apiClient) createSession(ctx context.Context, opts StreamingOptions) (*Session, error) {
	body, err := json.Marshal(createSessionRequest{
		AppID:           opts.AppID,
		StoreType:       opts.StoreType,
		StoreID:         opts.StoreID,
		PreferredServer: opts.PreferredServer,
		Resolution:      fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		FPS:             opts.FPS,
		Codec:           opts.Codec,
		MaxBitrateMbps:  opts.MaxBitrateMbps,
		Reflex:          opts.Reflex,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal create-session request: %w", err)
	}

	resp, err := httputil.Do(ctx, c.httpClient, http.MethodPost, c.baseURL+"/session", body, c.headers(), c.retry)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "create session", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return nil, mapAPIError(resp)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, errs.New(errs.Transient, fmt.Sprintf("create session: unexpected status %d", resp.StatusCode))
	}

	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode create-session response: %w", err)
	}

	return out.toSession(out.SessionID, opts.AppID), nil
}

// getStatus issues GET /session/{id}.
func (c *apiClient) getStatus(ctx context.Context, sessionID string, appID uint32) (*Session, error) {
	url := fmt.Sprintf("%s/session/%s", c.baseURL, sessionID)
	resp, err := httputil.Do(ctx, c.httpClient, http.MethodGet, url, nil, c.headers(), c.retry)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "get session status", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.Transient, fmt.Sprintf("get session status: unexpected status %d", resp.StatusCode))
	}

	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode session-status response: %w", err)
	}

	return out.toSession(sessionID, appID), nil
}

// claim issues PUT /session/{id}.
func (c *apiClient) claim(ctx context.Context, sessionID string, appID uint32, width, height, fps int) (*Session, error) {
	body, err := json.Marshal(struct {
		Resolution string `json:"resolution"`
		FPS        int    `json:"fps"`
	}{
		Resolution: fmt.Sprintf("%dx%d", width, height),
		FPS:        fps,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal claim request: %w", err)
	}

	url := fmt.Sprintf("%s/session/%s", c.baseURL, sessionID)
	resp, err := httputil.Do(ctx, c.httpClient, http.MethodPut, url, body, c.headers(), c.retry)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "claim session", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadRequest {
		return nil, mapAPIError(resp)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.Transient, fmt.Sprintf("claim session: unexpected status %d", resp.StatusCode))
	}

	var out sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode claim response: %w", err)
	}

	return out.toSession(sessionID, appID), nil
}

// terminate issues DELETE /session/{id}. Best-effort; failures are logged
// by the caller and never surfaced as fatal.
func (c *apiClient) terminate(ctx context.Context, sessionID string) error {
	url := fmt.Sprintf("%s/session/%s", c.baseURL, sessionID)
	resp, err := httputil.Do(ctx, c.httpClient, http.MethodDelete, url, nil, c.headers(), c.retry)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func mapAPIError(resp *http.Response) error {
	var body apiErrorBody
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch {
	case strings.HasPrefix(body.Code, "REGION_NOT_SUPPORTED"):
		return errs.New(errs.RegionUnsupported, body.Message)
	case strings.HasPrefix(body.Code, "SESSION_LIMIT_EXCEEDED"):
		return errs.New(errs.SessionLimitExceeded, body.Message)
	case strings.HasPrefix(body.Code, "AUTH"):
		return errs.New(errs.AuthInvalid, body.Message)
	default:
		return errs.New(errs.Transient, fmt.Sprintf("session API error: %s %s", body.Code, body.Message))
	}
}
