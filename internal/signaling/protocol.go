package signaling

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// peerInfoBody mirrors the GFN peer_info message:
// { id, name, peer_role, resolution, version, … }.
type peerInfoBody struct {
	ID         int    `json:"id"`
	Name       string `json:"name,omitempty"`
	PeerRole   string `json:"peer_role,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Version    int    `json:"version,omitempty"`
}

// peerMsgBody mirrors peer_msg{from,to,msg}; msg is kept as raw JSON since
// its shape (offer/answer/candidate) is resolved by inner "type", or by
// its absence for bare ICE candidates.
type peerMsgBody struct {
	From int             `json:"from"`
	To   int             `json:"to"`
	Msg  json.RawMessage `json:"msg"`
}

// envelope is the outer shape of every signaling message. Exactly one of
// PeerInfo/PeerMsg/HB is populated for a given message; AckID/Ack ride
// alongside any of them.
type envelope struct {
	PeerInfo *peerInfoBody `json:"peer_info,omitempty"`
	PeerMsg  *peerMsgBody  `json:"peer_msg,omitempty"`
	HB       *int          `json:"hb,omitempty"`
	AckID    *int          `json:"ackid,omitempty"`
	Ack      *int          `json:"ack,omitempty"`
}

type sdpMsg struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

type answerMsg struct {
	Type    string `json:"type"`
	SDP     string `json:"sdp"`
	NvstSdp string `json:"nvstSdp"`
}

type candidateMsg struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// innerMsgType peeks the "type" field of a peer_msg.msg payload without
// unmarshaling the full candidate/offer/answer shape.
func innerMsgType(msg json.RawMessage) string {
	return gjson.GetBytes(msg, "type").String()
}

func marshalEnvelope(e envelope) ([]byte, error) {
	return json.Marshal(e)
}
