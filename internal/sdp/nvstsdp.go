package sdp

import (
	"fmt"
	"math"
	"strings"
)

// BuildNvstSDP constructs the synthetic SDP-shaped nvstSdp parameter blob
// NVIDIA uses to configure the encoder. It is deterministic and pure: the
// same inputs always produce byte-identical output, which is what the
// determinism test (TestNvstSdpPure) relies on.
func BuildNvstSDP(answerSDP string, width, height, fps int, maxBitrateMbps float64) (string, error) {
	if width <= 0 || height <= 0 || fps <= 0 {
		return "", fmt.Errorf("nvstSdp: width/height/fps must be positive (got %dx%d@%d)", width, height, fps)
	}

	ice := ExtractICEParams(answerSDP)
	bMax := maxBitrateMbps * 1000 // kbps

	var b strings.Builder
	b.WriteString("v=0\r\n")
	b.WriteString("m=video 9 UDP/TLS/RTP/SAVPF 96\r\n")

	writeAttr(&b, "general.iceUserNameFragment", ice.UFrag)
	writeAttr(&b, "general.icePassword", ice.Password)
	writeAttr(&b, "general.dtlsFingerprint", ice.Fingerprint)

	writeAttr(&b, "video.clientViewportWd", formatInt(width))
	writeAttr(&b, "video.clientViewportHt", formatInt(height))
	writeAttr(&b, "video.maxFPS", formatInt(fps))

	writeAttr(&b, "video.initialBitrateKbps", formatFloat(bMax*0.5))
	writeAttr(&b, "video.initialPeakBitrateKbps", formatFloat(bMax*0.5))
	writeAttr(&b, "vqos.bw.maximumBitrateKbps", formatFloat(bMax))
	writeAttr(&b, "vqos.bw.minimumBitrateKbps", formatFloat(math.Min(10000, bMax/10)))

	writeAttr(&b, "vqos.fec.repairPercent", "5")
	writeAttr(&b, "vqos.fec.minRepairPackets", "2")
	writeAttr(&b, "vqos.fec.maxRepairPackets", "32")

	if fps >= 120 {
		writeAttr(&b, "video.enableDRC", "0")
		writeAttr(&b, "video.enableDFC", "1")
		writeAttr(&b, "video.decodeFpsAdjPercent", "85")
		minTargetFps := 60
		if fps == 120 {
			minTargetFps = 100
		}
		writeAttr(&b, "video.minTargetFps", formatInt(minTargetFps))

		writeAttr(&b, "vqos.pacing.groupSize", "2")
		writeAttr(&b, "video.fbcDynamicFpsGrabTimeoutMs", "200")
		writeAttr(&b, "video.encoderFeatureSetting", "1")
		writeAttr(&b, "video.encoderPreset", "llhq")
	} else {
		writeAttr(&b, "video.enableDRC", "1")
		writeAttr(&b, "video.minRequiredBitrateCheckEnabled", "1")
	}

	if fps >= 240 {
		writeAttr(&b, "video.enableNextCaptureMode", "1")
		writeAttr(&b, "vqos.maxStreamFpsEstimate", "240")
		writeAttr(&b, "video.videoSplitEncodeStripsPerFrame", "3")
	}

	b.WriteString("m=audio 0 UDP/TLS/RTP/SAVPF 0\r\n")
	b.WriteString("a=msid:input_1\r\n")
	b.WriteString("m=mic 0 UDP/TLS/RTP/SAVPF 0\r\n")
	b.WriteString("a=msid:input_1\r\n")
	b.WriteString("m=application 0 UDP/TLS/RTP/SAVPF 0\r\n")
	b.WriteString("a=msid:input_1\r\n")
	writeAttr(&b, "ri.partialReliableThresholdMs", "300")

	return b.String(), nil
}

func writeAttr(b *strings.Builder, key, value string) {
	b.WriteString("a=")
	b.WriteString(key)
	b.WriteString(":")
	b.WriteString(value)
	b.WriteString("\r\n")
}

func formatFloat(f float64) string {
	if f == math.Trunc(f) {
		return formatInt(int(f))
	}
	return fmt.Sprintf("%g", f)
}
