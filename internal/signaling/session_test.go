package signaling

import (
	"encoding/json"
	"testing"
)

type fakeBridge struct {
	offerSDP string
}

func (f *fakeBridge) HandleOffer(offerSDP string) (string, error) {
	f.offerSDP = offerSDP
	return "v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\ns=-\r\nm=video 9 UDP/TLS/RTP/SAVPF 96\r\n", nil
}

func (f *fakeBridge) AddRemoteCandidate(c Candidate) error { return nil }

func (f *fakeBridge) LocalCandidates() <-chan Candidate { return nil }

func nvstStub(answerSDP string, w, h, fps int, maxBitrateMbps float64) (string, error) {
	return "v=0\r\n", nil
}

func newTestSession() *Session {
	return NewSession(&fakeBridge{}, nvstStub, SessionParams{Width: 1920, Height: 1080, FPS: 60, MaxBitrateMbps: 20})
}

// TestAckDiscipline checks that receiving a message with ackid:42 must
// produce exactly {"ack":42} as the next outgoing frame, preceding any
// unrelated outbound message.
func TestAckDiscipline(t *testing.T) {
	s := newTestSession()

	raw, _ := json.Marshal(struct {
		PeerMsg *peerMsgBody `json:"peer_msg"`
		AckID   int          `json:"ackid"`
	}{
		PeerMsg: &peerMsgBody{From: ServerPeerID, To: ClientPeerID, Msg: json.RawMessage(`{"candidate":"candidate:1 1 udp 1 1.2.3.4 1000 typ host","sdpMid":"0","sdpMLineIndex":0}`)},
		AckID:   42,
	})

	if err := s.handleMessage(raw); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	select {
	case frame := <-s.sendCh:
		var got struct {
			Ack int `json:"ack"`
		}
		if err := json.Unmarshal(frame, &got); err != nil {
			t.Fatalf("unmarshal outgoing frame: %v", err)
		}
		if got.Ack != 42 {
			t.Fatalf("expected {ack:42}, got %s", frame)
		}
	default:
		t.Fatal("expected an outgoing ack frame")
	}
}

// TestAckSkippedForOwnPeerInfoEcho verifies the one documented exception:
// a server echo of our own peer_info (same id) does not trigger an ack.
func TestAckSkippedForOwnPeerInfoEcho(t *testing.T) {
	s := newTestSession()

	raw, _ := json.Marshal(envelope{
		PeerInfo: &peerInfoBody{ID: ClientPeerID},
		AckID:    intPtr(7),
	})

	if err := s.handleMessage(raw); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	select {
	case frame := <-s.sendCh:
		t.Fatalf("expected no ack frame for our own peer_info echo, got %s", frame)
	default:
	}
}

func intPtr(n int) *int { return &n }

// TestMonotoneAckID verifies our k-th outgoing message carries ackid=k.
func TestMonotoneAckID(t *testing.T) {
	s := newTestSession()
	for k := 1; k <= 5; k++ {
		if got := s.nextAckID(); got != k {
			t.Fatalf("expected ackid %d, got %d", k, got)
		}
	}
}

// TestIncomingHeartbeatIsEchoed verifies spec.md §4.2 step 6: an incoming
// {hb:1} gets an outgoing {hb:1} reply, distinct from the 5s ticker-driven
// heartbeat this client originates on its own.
func TestIncomingHeartbeatIsEchoed(t *testing.T) {
	s := newTestSession()

	raw, _ := json.Marshal(envelope{HB: intPtr(1)})
	if err := s.handleMessage(raw); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}

	select {
	case frame := <-s.sendCh:
		var got struct {
			HB *int `json:"hb"`
		}
		if err := json.Unmarshal(frame, &got); err != nil {
			t.Fatalf("unmarshal outgoing frame: %v", err)
		}
		if got.HB == nil || *got.HB != 1 {
			t.Fatalf("expected {hb:1} echo, got %s", frame)
		}
	default:
		t.Fatal("expected an outgoing hb frame in reply")
	}
}

func TestHostnameToIP(t *testing.T) {
	ip, ok := hostnameToIP("1-2-3-4.cloudmatchbeta.nvidiagrid.net")
	if !ok || ip != "1.2.3.4" {
		t.Fatalf("expected 1.2.3.4, got %q (ok=%v)", ip, ok)
	}

	if _, ok := hostnameToIP("not-a-quad-host.example.com"); ok {
		t.Fatal("expected failure on non-quad hostname")
	}
}

func TestPortFromSDP(t *testing.T) {
	sdp := "v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\ns=-\r\nm=video 49000 UDP/TLS/RTP/SAVPF 96\r\n"
	port, ok := portFromSDP(sdp)
	if !ok || port != 49000 {
		t.Fatalf("expected port 49000, got %d (ok=%v)", port, ok)
	}
}
