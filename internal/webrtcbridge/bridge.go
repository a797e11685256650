// Package webrtcbridge owns the pion peer connection and bridges it to the
// rest of the streaming core: remote description/answer construction, the
// input data channel, inbound video tracks, and connection-state
// lifecycle. This side answers and receives rather than offers and
// captures.
package webrtcbridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/nvstream/gfn-client/internal/errs"
	"github.com/nvstream/gfn-client/internal/logging"
	"github.com/nvstream/gfn-client/internal/observer"
	"github.com/nvstream/gfn-client/internal/sdp"
	"github.com/nvstream/gfn-client/internal/signaling"
)

var log = logging.L("webrtcbridge")

const (
	iceGatherTimeout    = 5 * time.Second
	playoutDelayHdrURI  = "http://www.webrtc.org/experiments/rtp-hdrext/playout-delay"
	InputChannelLabel   = "input_channel_v1"
)

// ConnectionState is the observable stream lifecycle.
type ConnectionState int

const (
	Connecting ConnectionState = iota
	Connected
	Disconnected
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnected:
		return "Disconnected"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Bridge owns the peer connection and its data channels. InputPipeline and
// StatsSampler borrow the input channel and the peer connection
// respectively; Bridge never references the Session beyond what's needed
// to build the answer.
type Bridge struct {
	codec string

	peerConn *webrtc.PeerConnection

	mu          sync.Mutex
	inputDC     *webrtc.DataChannel
	localCands  chan signaling.Candidate

	ConnectionStateChanges *observer.Bus[ConnectionState]
	InputChannelOpen       *observer.Bus[*webrtc.DataChannel]
	RemoteTracks           *observer.Bus[*webrtc.TrackRemote]

	onFatal func(*errs.Error)
}

// Config holds the peer connection's required configuration.
type Config struct {
	ICEServers []webrtc.ICEServer
	Codec      string // "h264", "vp8", "vp9", "h265"
	OnFatal    func(*errs.Error)
}

// New constructs the peer connection with bundlePolicy=max-bundle,
// rtcpMuxPolicy=require, iceCandidatePoolSize=2, and registers the
// playout-delay header extension plus pion's NACK/RTCP-report
// interceptors so internal/stats can read inbound jitter-buffer stats.
func New(cfg Config) (*Bridge, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}
	if err := mediaEngine.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: playoutDelayHdrURI},
		webrtc.RTPCodecTypeVideo,
	); err != nil {
		log.Warn("failed to register playout-delay extension (non-fatal)", "error", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)

	config := webrtc.Configuration{
		ICEServers:           cfg.ICEServers,
		BundlePolicy:         webrtc.BundlePolicyMaxBundle,
		RTCPMuxPolicy:        webrtc.RTCPMuxPolicyRequire,
		ICECandidatePoolSize: 2,
	}

	peerConn, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	b := &Bridge{
		codec:                  cfg.Codec,
		peerConn:               peerConn,
		localCands:             make(chan signaling.Candidate, 32),
		ConnectionStateChanges: observer.NewBus[ConnectionState](),
		InputChannelOpen:       observer.NewBus[*webrtc.DataChannel](),
		RemoteTracks:           observer.NewBus[*webrtc.TrackRemote](),
		onFatal:                cfg.OnFatal,
	}

	peerConn.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end-of-candidates
		}
		ci := c.ToJSON()
		mid := ""
		if ci.SDPMid != nil {
			mid = *ci.SDPMid
		}
		var mlineIdx uint16
		if ci.SDPMLineIndex != nil {
			mlineIdx = *ci.SDPMLineIndex
		}
		select {
		case b.localCands <- signaling.Candidate{Candidate: ci.Candidate, SDPMid: mid, SDPMLineIndex: mlineIdx}:
		default:
			log.Warn("local candidate channel full, dropping candidate")
		}
	})

	peerConn.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		// A lazily-created shared stream is implicit here: pion always hands
		// OnTrack a non-nil TrackRemote, so the video sink never observes a
		// null source even for an orphan track with no associated stream.
		go drainRTCP(receiver)
		b.RemoteTracks.Publish(track)
	})

	peerConn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Info("peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateConnected:
			b.ConnectionStateChanges.Publish(Connected)
		case webrtc.PeerConnectionStateDisconnected:
			b.ConnectionStateChanges.Publish(Disconnected)
		case webrtc.PeerConnectionStateFailed:
			b.ConnectionStateChanges.Publish(Failed)
			if b.onFatal != nil {
				b.onFatal(errs.NewIceFailed(b.lastCandidatePairStats()))
			}
		}
	})

	return b, nil
}

// CreateInputChannel creates input_channel_v1 with ordered=false,
// maxRetransmits=0. This MUST happen before SetRemoteDescription(offer) —
// the server uses the channel's presence in our SCTP setup to decide
// whether to drive the input handshake at all.
func (b *Bridge) CreateInputChannel() error {
	ordered := false
	var maxRetransmits uint16 = 0
	dc, err := b.peerConn.CreateDataChannel(InputChannelLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		return fmt.Errorf("create input channel: %w", err)
	}

	b.mu.Lock()
	b.inputDC = dc
	b.mu.Unlock()

	dc.OnOpen(func() {
		b.InputChannelOpen.Publish(dc)
	})

	return nil
}

// InputChannel returns the input data channel, or nil before
// CreateInputChannel has run.
func (b *Bridge) InputChannel() *webrtc.DataChannel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inputDC
}

// HandleOffer creates the input channel (if not already created),
// completes the offer/answer exchange, waits for ICE gathering, and
// returns the codec-filtered local answer SDP.
func (b *Bridge) HandleOffer(offerSDP string) (string, error) {
	if b.InputChannel() == nil {
		if err := b.CreateInputChannel(); err != nil {
			return "", err
		}
	}

	if err := b.peerConn.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}

	answer, err := b.peerConn.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(b.peerConn)
	if err := b.peerConn.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	timer := time.NewTimer(iceGatherTimeout)
	defer timer.Stop()
	select {
	case <-gatherComplete:
	case <-timer.C:
		log.Warn("ICE gathering did not complete before timeout, proceeding with candidates gathered so far")
	}

	local := b.peerConn.LocalDescription()
	return sdp.BuildAnswer(local.SDP, b.codec), nil
}

// AddRemoteCandidate pushes a trickled (or synthetic, ice-lite) ICE
// candidate into the peer connection.
func (b *Bridge) AddRemoteCandidate(c signaling.Candidate) error {
	mid := c.SDPMid
	mlineIdx := c.SDPMLineIndex
	return b.peerConn.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &mlineIdx,
	})
}

// LocalCandidates returns the channel of candidates gathered by this peer
// connection, to be trickled out over signaling.
func (b *Bridge) LocalCandidates() <-chan signaling.Candidate {
	return b.localCands
}

// PeerConnection exposes the underlying connection for internal/stats.
func (b *Bridge) PeerConnection() *webrtc.PeerConnection {
	return b.peerConn
}

// Close tears down the peer connection. Idempotent.
func (b *Bridge) Close() error {
	return b.peerConn.Close()
}

func (b *Bridge) lastCandidatePairStats() *errs.IceCandidatePairStats {
	report := b.peerConn.GetStats()
	for _, s := range report {
		if pair, ok := s.(webrtc.ICECandidatePairStats); ok && pair.State == webrtc.StatsICECandidatePairStateSucceeded {
			return &errs.IceCandidatePairStats{
				CurrentRoundTripTime: pair.CurrentRoundTripTime,
				RequestsSent:         uint32(pair.RequestsSent),
				ResponsesReceived:    uint32(pair.ResponsesReceived),
			}
		}
	}
	return nil
}
