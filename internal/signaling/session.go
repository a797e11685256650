package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nvstream/gfn-client/internal/errs"
	"github.com/nvstream/gfn-client/internal/logging"
	"github.com/nvstream/gfn-client/internal/observer"
)

var log = logging.L("signaling")

const (
	heartbeatInterval    = 5 * time.Second
	writeWait            = 10 * time.Second
	iceLiteGraceWindow   = 2 * time.Second
	defaultHandshakeWait = 15 * time.Second
)

// SessionParams are the per-stream values the signaling session needs to
// build the nvstSdp blob and address the ice-lite workaround; everything
// else is the immutable StreamingOptions the application shell owns.
type SessionParams struct {
	Width          int
	Height         int
	FPS            int
	MaxBitrateMbps float64
}

// Session owns the WebSocket to the GFN edge and runs the peer-message
// state machine. Uses a reconnect/read-write-pump split, collapsed here
// into an explicit state machine instead of command-dispatch-by-label.
type Session struct {
	bridge  Bridge
	nvstFn  NvstSdpBuilder
	params  SessionParams

	conn     *websocket.Conn
	connMu   sync.Mutex
	peerID   string
	outAck   int
	outAckMu sync.Mutex

	mu    sync.RWMutex
	state State

	answerSent   bool
	answerSentAt time.Time
	gotRemoteCandidate bool
	iceLiteOffer string

	serverHost string

	StateChanges *observer.Bus[State]

	sendCh chan []byte
	done   chan struct{}
	doneOnce sync.Once
}

func NewSession(bridge Bridge, nvstFn NvstSdpBuilder, params SessionParams) *Session {
	return &Session{
		bridge:       bridge,
		nvstFn:       nvstFn,
		params:       params,
		peerID:       "peer-" + uuid.NewString()[:8],
		outAck:       0,
		state:        Opened,
		StateChanges: observer.NewBus[State](),
		sendCh:       make(chan []byte, 64),
		done:         make(chan struct{}),
	}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.StateChanges.Publish(st)
}

// Connect opens wss://{host}/nvst/sign_in?peer_id=peer-{rand}&version=2
// with subprotocol x-nv-sessionid.{session_id}, appending &reconnect=1 for
// reconnection attempts.
func (s *Session) Connect(ctx context.Context, host, sessionID string, reconnect bool) error {
	s.serverHost = host

	u := url.URL{Scheme: "wss", Host: host, Path: "/nvst/sign_in"}
	q := u.Query()
	q.Set("peer_id", s.peerID)
	q.Set("version", "2")
	if reconnect {
		q.Set("reconnect", "1")
	}
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: defaultHandshakeWait,
		Subprotocols:     []string{"x-nv-sessionid." + sessionID},
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("signaling dial: %w", err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	log.Info("signaling connected", "host", host, "peerId", s.peerID, "reconnect", reconnect)
	return nil
}

// Run drives the state machine until ctx is cancelled or the socket
// closes. It returns nil on a clean, expected shutdown and a typed *errs.Error
// otherwise (SignalingClosed if the socket closed before the answer was
// sent — post-answer closes from ice-lite servers are logged, not raised).
func (s *Session) Run(ctx context.Context) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return errorf("Run called before Connect")
	}

	msgCh := make(chan []byte, 64)
	closeCh := make(chan error, 1)

	go s.readPump(conn, msgCh, closeCh)
	go s.writePump(ctx, conn)
	go s.trickleLocalCandidates(ctx)

	if err := s.sendPeerInfo(); err != nil {
		return err
	}

	hbTicker := time.NewTicker(heartbeatInterval)
	defer hbTicker.Stop()

	// Armed (and re-armed on each incoming message) once the answer is sent
	// while no remote candidate has arrived; the workaround itself only acts
	// on an ice-lite offer.
	iceLiteTimer := time.NewTimer(24 * time.Hour)
	iceLiteTimer.Stop()
	defer iceLiteTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.close(websocket.CloseNormalClosure, "bye")
			return nil

		case closeErr := <-closeCh:
			s.setState(Closed)
			s.mu.RLock()
			answered := s.answerSent
			s.mu.RUnlock()
			if !answered {
				code, reason := closeDetails(closeErr)
				return errs.NewSignalingClosed(code, reason)
			}
			log.Info("signaling socket closed after answer sent, treating as benign", "error", closeErr)
			return nil

		case raw := <-msgCh:
			if err := s.handleMessage(raw); err != nil {
				log.Warn("signaling message handling error", "error", err)
			}
			if s.pendingIceLiteCheck() {
				iceLiteTimer.Reset(iceLiteGraceWindow)
			}

		case <-iceLiteTimer.C:
			s.attemptIceLiteWorkaround()

		case <-hbTicker.C:
			s.sendHB()
		}
	}
}

func (s *Session) pendingIceLiteCheck() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.answerSent && !s.gotRemoteCandidate
}

func closeDetails(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}

func (s *Session) readPump(conn *websocket.Conn, msgCh chan []byte, closeCh chan error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeCh <- err
			return
		}
		select {
		case msgCh <- data:
		case <-s.done:
			return
		}
	}
}

func (s *Session) writePump(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case data := <-s.sendCh:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn("signaling write error", "error", err)
				return
			}
		}
	}
}

func (s *Session) nextAckID() int {
	s.outAckMu.Lock()
	defer s.outAckMu.Unlock()
	s.outAck++
	return s.outAck
}

func (s *Session) send(e envelope) error {
	data, err := marshalEnvelope(e)
	if err != nil {
		return err
	}
	select {
	case s.sendCh <- data:
		return nil
	case <-s.done:
		return errorf("session closed")
	}
}

func (s *Session) sendPeerInfo() error {
	ack := s.nextAckID()
	return s.send(envelope{
		PeerInfo: &peerInfoBody{ID: ClientPeerID, PeerRole: "client", Version: 2},
		AckID:    &ack,
	})
}

func (s *Session) sendHB() error {
	one := 1
	return s.send(envelope{HB: &one})
}

func (s *Session) sendAck(n int) error {
	return s.send(envelope{Ack: &n})
}

func (s *Session) handleMessage(raw []byte) error {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("unmarshal signaling message: %w", err)
	}

	if env.AckID != nil {
		echoOfOurPeerInfo := env.PeerInfo != nil && env.PeerInfo.ID == ClientPeerID
		if !echoOfOurPeerInfo {
			if err := s.sendAck(*env.AckID); err != nil {
				return err
			}
		}
	}

	switch {
	case env.PeerInfo != nil:
		if s.State() == Opened {
			s.setState(PeerInfoAcked)
			s.setState(AwaitingOffer)
		}
	case env.HB != nil:
		return s.sendHB()
	case env.PeerMsg != nil:
		return s.handlePeerMsg(env.PeerMsg)
	}
	return nil
}

func (s *Session) handlePeerMsg(pm *peerMsgBody) error {
	switch innerMsgType(pm.Msg) {
	case "offer":
		return s.handleOffer(pm.Msg)
	case "answer":
		log.Debug("ignoring unexpected answer message (client is the answerer)")
		return nil
	default:
		var cm candidateMsg
		if err := json.Unmarshal(pm.Msg, &cm); err != nil || cm.Candidate == "" {
			return nil
		}
		s.mu.Lock()
		s.gotRemoteCandidate = true
		s.mu.Unlock()
		return s.bridge.AddRemoteCandidate(Candidate{
			Candidate:     cm.Candidate,
			SDPMid:        cm.SDPMid,
			SDPMLineIndex: cm.SDPMLineIndex,
		})
	}
}

func (s *Session) handleOffer(raw json.RawMessage) error {
	var sm sdpMsg
	if err := json.Unmarshal(raw, &sm); err != nil {
		return fmt.Errorf("unmarshal offer: %w", err)
	}

	answerSDP, err := s.bridge.HandleOffer(sm.SDP)
	if err != nil {
		return fmt.Errorf("bridge handle offer: %w", err)
	}

	nvstSdp, err := s.nvstFn(answerSDP, s.params.Width, s.params.Height, s.params.FPS, s.params.MaxBitrateMbps)
	if err != nil {
		return fmt.Errorf("build nvstSdp: %w", err)
	}

	body, err := json.Marshal(answerMsg{Type: "answer", SDP: answerSDP, NvstSdp: nvstSdp})
	if err != nil {
		return err
	}
	ack := s.nextAckID()
	if err := s.send(envelope{
		PeerMsg: &peerMsgBody{From: ClientPeerID, To: ServerPeerID, Msg: body},
		AckID:   &ack,
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.answerSent = true
	s.answerSentAt = time.Now()
	s.mu.Unlock()
	s.setState(AnswerSent)
	s.setState(Trickling)

	if isIceLite(sm.SDP) {
		s.iceLiteOffer = sm.SDP
	}
	return nil
}

func (s *Session) attemptIceLiteWorkaround() {
	s.mu.RLock()
	offer := s.iceLiteOffer
	already := s.gotRemoteCandidate
	s.mu.RUnlock()

	if offer == "" || already {
		return
	}

	ip, ok := hostnameToIP(s.serverHost)
	if !ok {
		log.Warn("ice-lite workaround: could not parse synthetic IP from host", "host", s.serverHost)
		return
	}
	port, ok := portFromSDP(offer)
	if !ok {
		log.Warn("ice-lite workaround: could not find m=video|audio port in offer")
		return
	}

	candidate := fmt.Sprintf("candidate:1 1 udp 2130706431 %s %d typ host", ip, port)
	for _, mid := range syntheticCandidateSDPMids {
		err := s.bridge.AddRemoteCandidate(Candidate{Candidate: candidate, SDPMid: mid})
		if err == nil {
			log.Info("ice-lite synthetic candidate accepted", "sdpMid", mid, "ip", ip, "port", port)
			s.mu.Lock()
			s.gotRemoteCandidate = true
			s.mu.Unlock()
			return
		}
	}
	log.Warn("ice-lite workaround: no sdpMid accepted the synthetic candidate")
}

func (s *Session) trickleLocalCandidates(ctx context.Context) {
	ch := s.bridge.LocalCandidates()
	if ch == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case c, ok := <-ch:
			if !ok {
				return
			}
			body, err := json.Marshal(candidateMsg{Candidate: c.Candidate, SDPMid: c.SDPMid, SDPMLineIndex: c.SDPMLineIndex})
			if err != nil {
				continue
			}
			ack := s.nextAckID()
			s.send(envelope{
				PeerMsg: &peerMsgBody{From: ClientPeerID, To: ServerPeerID, Msg: body},
				AckID:   &ack,
			})
		}
	}
}

func (s *Session) close(code int, reason string) {
	s.doneOnce.Do(func() {
		close(s.done)
		s.connMu.Lock()
		if s.conn != nil {
			s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
			s.conn.Close()
		}
		s.connMu.Unlock()
	})
}

// Close closes the signaling socket with code 1000 and a "bye" message, as
// part of session-cancellation cleanup.
func (s *Session) Close() {
	s.close(websocket.CloseNormalClosure, "bye")
}
