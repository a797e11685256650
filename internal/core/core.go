// Package core wires the leaf components (session, signaling, sdp,
// webrtcbridge, input, stats) into one owned value instead of a set of
// module-level singletons: "is there a streaming session right now?"
// becomes a method on this value rather than a package-level global.
// Construction takes already-loaded settings; Run builds the components
// bottom-up, starts them, and drives a single run loop until cancellation.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/nvstream/gfn-client/internal/errs"
	"github.com/nvstream/gfn-client/internal/httputil"
	"github.com/nvstream/gfn-client/internal/input"
	"github.com/nvstream/gfn-client/internal/logging"
	"github.com/nvstream/gfn-client/internal/observer"
	"github.com/nvstream/gfn-client/internal/sdp"
	"github.com/nvstream/gfn-client/internal/session"
	"github.com/nvstream/gfn-client/internal/signaling"
	"github.com/nvstream/gfn-client/internal/stats"
	"github.com/nvstream/gfn-client/internal/webrtcbridge"
)

var log = logging.L("core")

// ChannelRole is a tagged-variant registry in place of label-string
// dynamic dispatch ("best input channel" lookups by matching dc.Label()
// against a set of known strings at each call site).
type ChannelRole int

const (
	RoleInput ChannelRole = iota
	RoleControl
	RoleServerInput
)

// StreamingCore owns every component for one streaming attempt. It is not
// safe to reuse across sessions — construct a fresh one per Play click.
type StreamingCore struct {
	apiBaseURL string
	authToken  string
	iceServers []webrtc.ICEServer
	codec      string

	controller *session.Controller
	sig        *signaling.Session
	bridge     *webrtcbridge.Bridge
	pipeline   *input.Pipeline
	sampler    *stats.Sampler

	mu      sync.Mutex
	channels map[ChannelRole]*webrtc.DataChannel

	Errors *observer.Bus[*errs.Error]

	stopOnce sync.Once
	stopped  chan struct{}

	// log starts as the package-tagged logger and becomes session-scoped
	// (via logging.WithSession) as soon as Run learns the session id, so
	// every subsequent line carries the sessionId field for correlation.
	log *slog.Logger
}

// New constructs a core bound to the given API base URL, auth token, and
// ICE servers. The peer connection is configured with exactly these ICE
// servers; no ICE-server list is read from the session response.
func New(apiBaseURL, authToken, codec string, iceServers []webrtc.ICEServer) *StreamingCore {
	return &StreamingCore{
		apiBaseURL: apiBaseURL,
		authToken:  authToken,
		codec:      codec,
		iceServers: iceServers,
		controller: session.NewController(apiBaseURL, authToken),
		channels:   make(map[ChannelRole]*webrtc.DataChannel),
		Errors:     observer.NewBus[*errs.Error](),
		stopped:    make(chan struct{}),
		log:        log,
	}
}

// Controller exposes the session controller so the shell can subscribe to
// queue updates and state changes before calling Run.
func (c *StreamingCore) Controller() *session.Controller { return c.controller }

// Run drives the full lifecycle: start, wait-ready, claim, connect
// signaling, and block until the signaling session ends or ctx is
// cancelled. Any component failure is surfaced once via Errors and the
// controller's state advances to Ended.
func (c *StreamingCore) Run(ctx context.Context, opts session.StreamingOptions) error {
	started, err := c.controller.Start(ctx, opts)
	if err != nil {
		c.fail(err)
		return err
	}

	defer logging.RotateForSession(started.SessionID)
	c.log = logging.WithSession(log, started.SessionID)

	if _, err := c.controller.WaitReady(ctx, 0); err != nil {
		c.fail(err)
		return err
	}

	sess, err := c.controller.Claim(ctx, opts.Width, opts.Height, opts.FPS)
	if err != nil {
		c.fail(err)
		return err
	}

	bridge, err := webrtcbridge.New(webrtcbridge.Config{
		ICEServers: c.iceServers,
		Codec:      c.codec,
		OnFatal:    func(e *errs.Error) { c.fail(e) },
	})
	if err != nil {
		wrapped := errs.Wrap(errs.Transient, "failed to construct peer connection", err)
		c.fail(wrapped)
		return wrapped
	}
	c.bridge = bridge

	sessionParams := signaling.SessionParams{
		Width:          opts.Width,
		Height:         opts.Height,
		FPS:            opts.FPS,
		MaxBitrateMbps: opts.MaxBitrateMbps,
	}

	bridge.InputChannelOpen.Subscribe(func(dc *webrtc.DataChannel) {
		c.mu.Lock()
		c.channels[RoleInput] = dc
		c.mu.Unlock()

		pipeline := input.NewPipeline(dc, func(e *errs.Error) { c.fail(e) })
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			if err := pipeline.HandleServerMessage(msg.Data); err != nil {
				c.log.Warn("input handshake echo failed", "error", err)
			}
		})
		c.mu.Lock()
		c.pipeline = pipeline
		c.mu.Unlock()

		sampler := stats.NewSampler(bridge.PeerConnection(), fmt.Sprintf("%dx%d", opts.Width, opts.Height))
		sampler.ObserveLatency(pipeline.Latency)
		c.mu.Lock()
		c.sampler = sampler
		c.mu.Unlock()
		go sampler.Run()
	})

	bridge.ConnectionStateChanges.Subscribe(func(st webrtcbridge.ConnectionState) {
		switch st {
		case webrtcbridge.Connected:
			c.controller.MarkStreaming()
		case webrtcbridge.Failed:
			// Escalate verbosity right as the stream is ending so the ICE
			// candidate-pair diagnostics attached to the IceFailed error
			// (spec.md §4.4) land in the log even at a quieter configured
			// level.
			logging.SetLevel("debug")
			c.log.Debug("peer connection failed, escalating log level for diagnostics")
		}
	})

	err = c.connectSignalingWithBackoff(ctx, bridge, sess, sessionParams)
	if err != nil {
		c.fail(err)
	}
	c.Stop(ctx)
	return err
}

// connectSignalingWithBackoff dials the signaling socket and runs its state
// machine, reconnecting with exponential backoff if the socket closes
// before the answer was sent. Each attempt gets a fresh Session (and so a
// fresh peer_id/ackid handshake) since nothing SDP-related has happened
// yet; a post-answer close is never retried here, since Session.Run only
// reports SignalingClosed for pre-answer closes in the first place.
func (c *StreamingCore) connectSignalingWithBackoff(ctx context.Context, bridge *webrtcbridge.Bridge, sess *session.Session, params signaling.SessionParams) error {
	nvstFn := func(answerSDP string, width, height, fps int, maxBitrateMbps float64) (string, error) {
		return sdp.BuildNvstSDP(answerSDP, width, height, fps, maxBitrateMbps)
	}

	reconnectCfg := httputil.DefaultRetryConfig()

	var lastErr error
	for attempt := 0; attempt <= reconnectCfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := httputil.Backoff(reconnectCfg, attempt)
			c.log.Warn("signaling closed before answer, reconnecting",
				"attempt", attempt, "delay", delay, "cause", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		sig := signaling.NewSession(bridge, nvstFn, params)
		c.mu.Lock()
		c.sig = sig
		c.mu.Unlock()

		if err := sig.Connect(ctx, sess.ServerHost, sess.SessionID, attempt > 0); err != nil {
			return errs.Wrap(errs.Transient, "signaling connect failed", err)
		}

		lastErr = sig.Run(ctx)
		if lastErr == nil {
			return nil
		}
		if errs.CodeOf(lastErr) != errs.SignalingClosed {
			return lastErr
		}
	}
	return lastErr
}

// InputChannel returns the data channel for a given role, or nil if it
// has not opened yet.
func (c *StreamingCore) InputChannel(role ChannelRole) *webrtc.DataChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channels[role]
}

func (c *StreamingCore) fail(err error) {
	e, ok := errs.As(err)
	if !ok {
		e = errs.Wrap(errs.Transient, "unclassified failure", err)
	}
	c.log.Error("streaming core failure", "code", e.Code.String(), "error", e.Error())
	c.Errors.Publish(e)
}

// Stop tears everything down: peer connection, signaling socket, stats
// sampler, and the controller's session. Idempotent.
func (c *StreamingCore) Stop(ctx context.Context) {
	c.stopOnce.Do(func() {
		close(c.stopped)

		c.mu.Lock()
		sampler := c.sampler
		bridge := c.bridge
		sig := c.sig
		c.mu.Unlock()

		if sampler != nil {
			sampler.Stop()
		}
		if sig != nil {
			sig.Close()
		}
		if bridge != nil {
			_ = bridge.Close()
		}

		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c.controller.Terminate(stopCtx)
	})
}
