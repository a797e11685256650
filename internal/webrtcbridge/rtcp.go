package webrtcbridge

import (
	"io"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
)

// drainRTCP reads RTCP packets off an inbound video/audio receiver so pion's
// internal buffers never back up. We are receive-only for media — there is
// no local encoder to react to a PictureLossIndication or FullIntraRequest
// — so the packets are inspected only for logging and otherwise discarded.
func drainRTCP(receiver *webrtc.RTPReceiver) {
	rtcpBuf := make([]byte, 1500)
	for {
		n, _, err := receiver.Read(rtcpBuf)
		if err != nil {
			if err != io.EOF {
				log.Debug("rtcp receiver read stopped", "error", err)
			}
			return
		}
		packets, err := rtcp.Unmarshal(rtcpBuf[:n])
		if err != nil {
			continue
		}
		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication:
				log.Debug("received PLI on inbound stream")
			case *rtcp.FullIntraRequest:
				log.Debug("received FIR on inbound stream")
			}
		}
	}
}
