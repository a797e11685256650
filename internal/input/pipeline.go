package input

import (
	"sync"
	"time"

	"github.com/nvstream/gfn-client/internal/errs"
	"github.com/nvstream/gfn-client/internal/logging"
	"github.com/nvstream/gfn-client/internal/observer"
)

var log = logging.L("input")

const handshakeTimeout = 10 * time.Second

// LatencySample is published after every delivered mouse-delta frame, for
// StatsSampler's rolling averages.
type LatencySample struct {
	IPCMs   float64
	SendMs  float64
	TotalMs float64
}

// Sender is the subset of *webrtc.DataChannel the pipeline needs; narrowed
// to keep this package testable without a live peer connection.
type Sender interface {
	Send(data []byte) error
	SendText(s string) error
}

// Pipeline arms itself on the server's handshake, then encodes and sends
// input events over input_channel_v1. It holds the one mutex in the
// concurrency model: the accumulator guarding the native pointer-polling
// thread's queued relative deltas.
type Pipeline struct {
	mu          sync.Mutex
	armed       bool
	v3          bool
	streamStart time.Time

	accDX, accDY int32

	dc Sender

	Latency *observer.Bus[LatencySample]

	onHandshakeTimeout func(*errs.Error)
	handshakeTimer     *time.Timer
}

// NewPipeline constructs an unarmed pipeline bound to the given data
// channel. HandleServerMessage arms it once the server's handshake bytes
// arrive.
func NewPipeline(dc Sender, onHandshakeTimeout func(*errs.Error)) *Pipeline {
	p := &Pipeline{
		dc:                 dc,
		Latency:            observer.NewBus[LatencySample](),
		onHandshakeTimeout: onHandshakeTimeout,
	}
	p.handshakeTimer = time.AfterFunc(handshakeTimeout, func() {
		p.mu.Lock()
		armed := p.armed
		p.mu.Unlock()
		if !armed && p.onHandshakeTimeout != nil {
			p.onHandshakeTimeout(errs.New(errs.InputHandshakeTimeout, "server did not send input handshake within 10s"))
		}
	})
	return p
}

// HandleServerMessage is the data channel's OnMessage callback. The first
// message is the handshake; everything after is ignored (the channel is
// otherwise client-to-server only).
func (p *Pipeline) HandleServerMessage(data []byte) error {
	p.mu.Lock()
	armed := p.armed
	p.mu.Unlock()
	if armed {
		return nil
	}

	res, ok := DecodeHandshake(data)
	if !ok {
		return nil
	}

	if err := p.dc.Send(res.EchoBytes); err != nil {
		return err
	}

	p.mu.Lock()
	p.armed = true
	p.v3 = res.Version > 2
	p.streamStart = time.Now()
	p.mu.Unlock()

	p.handshakeTimer.Stop()
	log.Info("input handshake complete", "version", res.Version, "v3_envelope", res.Version > 2)
	return nil
}

// Armed reports whether the handshake has completed; events produced
// before this must be dropped.
func (p *Pipeline) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}

func (p *Pipeline) relativeTimestamp() (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.armed {
		return 0, false
	}
	return uint64(time.Since(p.streamStart).Microseconds()), true
}

func (p *Pipeline) wrap(frame []byte, tsUs uint64) []byte {
	p.mu.Lock()
	v3 := p.v3
	p.mu.Unlock()
	if v3 {
		return WrapV3Envelope(frame, tsUs)
	}
	return frame
}

// sendFrame sends the frame unreliably: one retry on buffer-full if
// retryOnFull is set (button edges), then drop with a warning; otherwise
// drop silently on the first failure (relative deltas, absolute moves,
// wheel).
func (p *Pipeline) sendFrame(frame []byte, retryOnFull bool) {
	if err := p.dc.Send(frame); err != nil {
		if !retryOnFull {
			return
		}
		if err := p.dc.Send(frame); err != nil {
			log.Warn("dropping input frame after retry", "error", err)
		}
	}
}

// SendKeyEvent encodes and sends a key down/up frame. Button-edge frames
// (key down/up count as edges) are retried once on buffer-full.
func (p *Pipeline) SendKeyEvent(down bool, keyID string, shift, ctrl, alt, meta bool, scancode uint16) {
	ts, ok := p.relativeTimestamp()
	if !ok {
		return
	}
	vk := VKCode(keyID)
	mask := ModifierMask(keyID, shift, ctrl, alt, meta)
	frame := p.wrap(EncodeKeyEvent(down, vk, mask, scancode, ts), ts)
	p.sendFrame(frame, true)
}

// SendMouseButton encodes and sends a mouse button down/up frame (also a
// retried edge).
func (p *Pipeline) SendMouseButton(down bool, osButton int) {
	ts, ok := p.relativeTimestamp()
	if !ok {
		return
	}
	frame := p.wrap(EncodeMouseButton(down, MapButton(osButton), ts), ts)
	p.sendFrame(frame, true)
}

// SendMouseWheel encodes and sends a wheel frame. Not retried: a dropped
// wheel tick is not observable the way a stuck button would be.
func (p *Pipeline) SendMouseWheel(horizNotches, vertNotches int) {
	ts, ok := p.relativeTimestamp()
	if !ok {
		return
	}
	frame := p.wrap(EncodeMouseWheel(QuantizeWheel(horizNotches), QuantizeWheel(vertNotches), ts), ts)
	p.sendFrame(frame, false)
}

// SendMouseAbsolute encodes and sends an absolute-position frame, viewport
// coordinates already clamped via ClampAbsolute by the caller.
func (p *Pipeline) SendMouseAbsolute(x, y uint16) {
	ts, ok := p.relativeTimestamp()
	if !ok {
		return
	}
	frame := p.wrap(EncodeMouseAbsolute(x, y, ts), ts)
	p.sendFrame(frame, false)
}

// AccumulateRelative is called by the native pointer-polling goroutine; it
// adds to the queued delta under the one mutex in the concurrency model.
func (p *Pipeline) AccumulateRelative(dx, dy int32) {
	p.mu.Lock()
	p.accDX += dx
	p.accDY += dy
	p.mu.Unlock()
}

// DrainRelative reads and zeroes the accumulated delta, encodes a relative
// motion frame if non-zero, and publishes a latency sample. pollStart is
// when the native accumulator tick that produced this delta began;
// ipcDone is when that tick's result became visible to this goroutine.
func (p *Pipeline) DrainRelative(pollStart, ipcDone time.Time) {
	p.mu.Lock()
	dx, dy := p.accDX, p.accDY
	p.accDX, p.accDY = 0, 0
	armed := p.armed
	p.mu.Unlock()

	if !armed || (dx == 0 && dy == 0) {
		return
	}

	ts, _ := p.relativeTimestamp()
	clamped := func(v int32) int16 {
		if v > 32767 {
			return 32767
		}
		if v < -32768 {
			return -32768
		}
		return int16(v)
	}
	frame := p.wrap(EncodeMouseRelative(clamped(dx), clamped(dy), ts), ts)

	sendStart := time.Now()
	p.sendFrame(frame, false)
	sendDone := time.Now()

	p.Latency.Publish(LatencySample{
		IPCMs:   ipcDone.Sub(pollStart).Seconds() * 1000,
		SendMs:  sendDone.Sub(sendStart).Seconds() * 1000,
		TotalMs: sendDone.Sub(pollStart).Seconds() * 1000,
	})
}
