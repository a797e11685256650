package input

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     [][]byte
	failNext int
}

func (f *fakeSender) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("buffer full")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.sent = append(f.sent, cp)
	return nil
}

func (f *fakeSender) SendText(s string) error {
	return f.Send([]byte(s))
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestPipelineDropsEventsBeforeHandshake(t *testing.T) {
	s := &fakeSender{}
	p := NewPipeline(s, nil)

	p.SendMouseButton(true, 0)
	if s.count() != 0 {
		t.Fatalf("expected no frames sent before handshake, got %d", s.count())
	}
}

func TestPipelineArmsAndEchoesHandshake(t *testing.T) {
	s := &fakeSender{}
	p := NewPipeline(s, nil)

	in := bytesFromHex(t, "0E 02 03 00")
	if err := p.HandleServerMessage(in); err != nil {
		t.Fatalf("HandleServerMessage: %v", err)
	}
	if !p.Armed() {
		t.Fatal("expected pipeline to be armed after handshake")
	}
	if s.count() != 1 {
		t.Fatalf("expected exactly 1 echoed frame, got %d", s.count())
	}
}

func TestPipelineButtonEdgeRetriesOnceThenDrops(t *testing.T) {
	s := &fakeSender{}
	p := NewPipeline(s, nil)
	_ = p.HandleServerMessage(bytesFromHex(t, "02 00"))

	// count() includes the handshake echo sent while arming.
	s.failNext = 1 // first send after arming fails once, retry succeeds
	p.SendMouseButton(true, 0)
	if s.count() != 2 {
		t.Fatalf("expected retry to land the frame, got count=%d", s.count())
	}

	s.failNext = 2 // both the send and its retry fail
	p.SendMouseButton(false, 0)
	if s.count() != 2 {
		t.Fatalf("expected the frame to be dropped after one failed retry, got count=%d", s.count())
	}
}

func TestPipelineDrainRelativePublishesLatency(t *testing.T) {
	s := &fakeSender{}
	p := NewPipeline(s, nil)
	_ = p.HandleServerMessage(bytesFromHex(t, "02 00"))

	var sample LatencySample
	done := make(chan struct{})
	p.Latency.Subscribe(func(l LatencySample) {
		sample = l
		close(done)
	})

	p.AccumulateRelative(5, -7)
	pollStart := time.Now()
	p.DrainRelative(pollStart, time.Now())

	<-done
	if s.count() != 2 {
		t.Fatalf("expected the handshake echo plus one relative frame, got %d", s.count())
	}
	if sample.TotalMs < 0 {
		t.Errorf("expected non-negative total latency, got %f", sample.TotalMs)
	}
}

func TestPipelineDrainRelativeSkipsZeroDelta(t *testing.T) {
	s := &fakeSender{}
	p := NewPipeline(s, nil)
	_ = p.HandleServerMessage(bytesFromHex(t, "02 00"))

	p.DrainRelative(time.Now(), time.Now())
	if s.count() != 1 {
		t.Fatalf("expected only the handshake echo and no frame for a zero delta, got %d", s.count())
	}
}
