package session

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/nvstream/gfn-client/internal/errs"
	"github.com/nvstream/gfn-client/internal/logging"
	"github.com/nvstream/gfn-client/internal/observer"
)

var log = logging.L("session")

// Controller drives the session lifecycle:
// Idle → Queued → Claimed → Ready → Streaming → Ended. It is the only
// owner of the Session value; other components borrow it read-mostly.
type Controller struct {
	api *apiClient

	mu      sync.RWMutex
	state   State
	session *Session

	QueueUpdates *observer.Bus[QueueUpdate]
	StateChanges *observer.Bus[State]
}

func NewController(baseURL, authToken string) *Controller {
	return &Controller{
		api:          newAPIClient(baseURL, authToken),
		state:        Idle,
		QueueUpdates: observer.NewBus[QueueUpdate](),
		StateChanges: observer.NewBus[State](),
	}
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.StateChanges.Publish(s)
}

// Start issues the session-create call and returns once the server has
// accepted the request with status Queued or Ready. Transient errors are
// retried by the underlying httputil client (up to 3 retries after the
// first attempt); documented
// server errors are mapped to typed, non-retryable failures.
func (c *Controller) Start(ctx context.Context, opts StreamingOptions) (*Session, error) {
	sess, err := c.api.createSession(ctx, opts)
	if err != nil {
		c.fail(err)
		return nil, err
	}

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	if sess.Status == StatusQueued {
		c.setState(Queued)
	} else {
		c.setState(Ready)
	}

	log.Info("session started", "sessionId", sess.SessionID, "status", sess.Status)
	return sess, nil
}

// WaitReady polls the session-status endpoint on a 1s cadence with a
// 5-minute ceiling, reporting queue position/ETA to QueueUpdates.
func (c *Controller) WaitReady(ctx context.Context, ceiling time.Duration) (*Session, error) {
	if ceiling <= 0 {
		ceiling = 5 * time.Minute
	}

	sess := c.Session()
	if sess == nil {
		return nil, errs.New(errs.Transient, "wait_ready called before start")
	}

	deadline := time.Now().Add(ceiling)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			err := errs.New(errs.QueueTimeout, "session-ready poll ceiling elapsed")
			c.fail(err)
			return nil, err
		}

		updated, err := c.api.getStatus(ctx, sess.SessionID, sess.AppID)
		if err != nil {
			c.fail(err)
			return nil, err
		}

		c.mu.Lock()
		c.session = updated
		c.mu.Unlock()

		if updated.Status == StatusReady || updated.Status == StatusActive {
			c.setState(Ready)
			return updated, nil
		}

		c.QueueUpdates.Publish(QueueUpdate{
			SessionID: updated.SessionID,
			Position:  updated.QueuePosition,
			ETAMillis: updated.ETAMillis,
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Claim issues the HTTP PUT that causes the server to bind a GPU and begin
// answering on the signaling URL, then re-polls status until it observes
// the 6→2/3 transition — returning before that transition produces a
// signaling URL that will not accept WebSocket upgrades.
func (c *Controller) Claim(ctx context.Context, width, height, fps int) (*Session, error) {
	sess := c.Session()
	if sess == nil {
		return nil, errs.New(errs.Transient, "claim called before start")
	}

	claimed, err := c.api.claim(ctx, sess.SessionID, sess.AppID, width, height, fps)
	if err != nil {
		c.fail(err)
		return nil, err
	}
	c.mu.Lock()
	c.session = claimed
	c.mu.Unlock()
	c.setState(Claimed)

	for claimed.Status != StatusReady && claimed.Status != StatusActive {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(1 * time.Second):
		}

		claimed, err = c.api.getStatus(ctx, sess.SessionID, sess.AppID)
		if err != nil {
			c.fail(err)
			return nil, err
		}
		c.mu.Lock()
		c.session = claimed
		c.mu.Unlock()
	}

	claimed.ServerHost = hostFromSignalingURL(claimed.SignalingURL)
	c.mu.Lock()
	c.session = claimed
	c.mu.Unlock()

	c.setState(Ready)
	log.Info("session claimed", "sessionId", claimed.SessionID, "serverHost", claimed.ServerHost)
	return claimed, nil
}

// MarkStreaming transitions the local state machine to Streaming once
// SignalingSession/WebRtcBridge report a connected peer.
func (c *Controller) MarkStreaming() {
	c.setState(Streaming)
}

// Terminate is a best-effort DELETE; failure here is logged, never fatal.
func (c *Controller) Terminate(ctx context.Context) {
	sess := c.Session()
	if sess != nil {
		if err := c.api.terminate(ctx, sess.SessionID); err != nil {
			log.Warn("terminate request failed", "sessionId", sess.SessionID, "error", err)
		}
	}
	c.setState(Ended)
}

// fail advances the state machine to Ended and logs the terminal error.
// Transitions are monotonic except that Streaming → Ended may be forced
// from any post-Queued state, which this always satisfies.
func (c *Controller) fail(err error) {
	code := errs.CodeOf(err)
	log.Error("session controller failed", "code", code, "error", err)
	c.setState(Ended)
}

// hostFromSignalingURL extracts the hostname from a wss:// signaling URL,
// e.g. "wss://1-2-3-4.host/nvst/" → "1-2-3-4.host".
func hostFromSignalingURL(signalingURL string) string {
	u, err := url.Parse(signalingURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
