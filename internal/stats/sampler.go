// Package stats periodically samples the peer connection and the input
// pipeline's latency bus and publishes a StatsSample for the UI to render.
// This sampler only reads stats to report them — GFN's server owns rate
// control, so there is no adaptive-bitrate actuation here.
package stats

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/nvstream/gfn-client/internal/input"
	"github.com/nvstream/gfn-client/internal/logging"
	"github.com/nvstream/gfn-client/internal/observer"
)

var log = logging.L("stats")

const (
	sampleInterval  = 1 * time.Second
	latencyWindow   = 100
)

// Sample is a point-in-time metrics snapshot.
type Sample struct {
	FPS            float64
	RTTMs          float64
	BitrateKbps    float64
	PacketLoss     float64
	Resolution     string
	Codec          string
	InputIPCMs     float64
	InputSendMs    float64
	InputTotalMs   float64
	InputRateEPS   float64
}

// PeerConnectionSource is the narrow slice of *webrtc.PeerConnection the
// sampler needs, so tests can fake it without a live connection.
type PeerConnectionSource interface {
	GetStats() webrtc.StatsReport
	ConnectionState() webrtc.PeerConnectionState
}

// Sampler polls a PeerConnectionSource every second, computing bitrate as
// 8*deltaBytes/deltaSeconds/1000 and RTT from the succeeded candidate
// pair, and folds in rolling input-latency averages. It stops itself once
// the peer connection is closed.
type Sampler struct {
	pc         PeerConnectionSource
	resolution string

	mu         sync.Mutex
	lastBytes  uint64
	lastSample time.Time

	latencyMu  sync.Mutex
	ipcSamples, sendSamples, totalSamples []float64
	eventTimestamps                       []time.Time

	Samples *observer.Bus[Sample]

	stopCh chan struct{}
	once   sync.Once
}

// NewSampler constructs a sampler bound to pc. resolution is a fixed
// "WxH" label — the negotiated resolution, not a measurement of the
// actual decoded frame size.
func NewSampler(pc PeerConnectionSource, resolution string) *Sampler {
	return &Sampler{
		pc:         pc,
		resolution: resolution,
		Samples:    observer.NewBus[Sample](),
		stopCh:     make(chan struct{}),
	}
}

// ObserveLatency subscribes to an input pipeline's latency bus, folding
// samples into a 100-sample rolling average.
func (s *Sampler) ObserveLatency(bus *observer.Bus[input.LatencySample]) func() {
	return bus.Subscribe(func(l input.LatencySample) {
		s.latencyMu.Lock()
		defer s.latencyMu.Unlock()
		s.ipcSamples = pushWindow(s.ipcSamples, l.IPCMs, latencyWindow)
		s.sendSamples = pushWindow(s.sendSamples, l.SendMs, latencyWindow)
		s.totalSamples = pushWindow(s.totalSamples, l.TotalMs, latencyWindow)
		s.eventTimestamps = pushTimeWindow(s.eventTimestamps, time.Now(), latencyWindow)
	})
}

func pushWindow(w []float64, v float64, max int) []float64 {
	w = append(w, v)
	if len(w) > max {
		w = w[len(w)-max:]
	}
	return w
}

func pushTimeWindow(w []time.Time, v time.Time, max int) []time.Time {
	w = append(w, v)
	if len(w) > max {
		w = w[len(w)-max:]
	}
	return w
}

func average(w []float64) float64 {
	if len(w) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum / float64(len(w))
}

// Run polls on a 1-second ticker until the peer connection closes or Stop
// is called.
func (s *Sampler) Run() {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	s.mu.Lock()
	s.lastSample = time.Now()
	s.mu.Unlock()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.pc.ConnectionState() == webrtc.PeerConnectionStateClosed {
				return
			}
			sample := s.computeSample()
			s.Samples.Publish(sample)
		}
	}
}

// Stop ends the sampling loop. Idempotent.
func (s *Sampler) Stop() {
	s.once.Do(func() { close(s.stopCh) })
}

func (s *Sampler) computeSample() Sample {
	report := s.pc.GetStats()

	var bytesReceived uint64
	var fps float64
	var codec string
	var packetsLost, packetsReceived uint32

	for _, st := range report {
		switch v := st.(type) {
		case webrtc.InboundRTPStreamStats:
			if v.Kind == "video" {
				bytesReceived = v.BytesReceived
				fps = v.FramesPerSecond
				packetsLost = uint32(v.PacketsLost)
				packetsReceived = uint32(v.PacketsReceived)
				if codecStats, ok := report[v.CodecID].(webrtc.CodecStats); ok {
					codec = normalizeCodecName(codecStats.MimeType)
				}
			}
		}
	}

	var rtt float64
	for _, st := range report {
		if pair, ok := st.(webrtc.ICECandidatePairStats); ok && pair.State == webrtc.StatsICECandidatePairStateSucceeded {
			rtt = pair.CurrentRoundTripTime * 1000
			break
		}
	}

	s.mu.Lock()
	now := time.Now()
	deltaSeconds := now.Sub(s.lastSample).Seconds()
	deltaBytes := float64(bytesReceived) - float64(s.lastBytes)
	s.lastBytes = bytesReceived
	s.lastSample = now
	s.mu.Unlock()

	var bitrateKbps float64
	if deltaSeconds > 0 && deltaBytes > 0 {
		bitrateKbps = 8 * deltaBytes / deltaSeconds / 1000
	}

	var packetLoss float64
	if packetsReceived+packetsLost > 0 {
		packetLoss = float64(packetsLost) / float64(packetsReceived+packetsLost)
	}

	s.latencyMu.Lock()
	ipcAvg := average(s.ipcSamples)
	sendAvg := average(s.sendSamples)
	totalAvg := average(s.totalSamples)
	rateEPS := eventsPerSecond(s.eventTimestamps)
	s.latencyMu.Unlock()

	return Sample{
		FPS:          fps,
		RTTMs:        rtt,
		BitrateKbps:  bitrateKbps,
		PacketLoss:   packetLoss,
		Resolution:   s.resolution,
		Codec:        codec,
		InputIPCMs:   ipcAvg,
		InputSendMs:  sendAvg,
		InputTotalMs: totalAvg,
		InputRateEPS: rateEPS,
	}
}

func eventsPerSecond(timestamps []time.Time) float64 {
	if len(timestamps) < 2 {
		return 0
	}
	span := timestamps[len(timestamps)-1].Sub(timestamps[0]).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(len(timestamps)-1) / span
}

// normalizeCodecName maps the MimeType the stats report carries to the
// expected display name (HEVC -> H265).
func normalizeCodecName(mimeType string) string {
	switch mimeType {
	case "video/H265", "video/HEVC":
		return "H265"
	case "video/H264":
		return "H264"
	case "video/VP8":
		return "VP8"
	case "video/VP9":
		return "VP9"
	case "video/AV1":
		return "AV1"
	default:
		log.Debug("unrecognized codec mime type in stats", "mime_type", mimeType)
		return mimeType
	}
}
