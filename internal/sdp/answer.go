// Package sdp builds two artifacts: the filtered answer SDP and the
// nvstSdp parameter blob. Both are pure functions over value types. The
// nvstSdp shape is NVIDIA-proprietary and built fresh from its documented
// key list; it has no standard SDP equivalent.
package sdp

import (
	"strconv"
	"strings"
)

// codecAliases maps a requested codec name to the rtpmap names that count
// as a match (HEVC and H265 refer to the same codec on the wire).
var codecAliases = map[string][]string{
	"h264": {"h264"},
	"vp8":  {"vp8"},
	"vp9":  {"vp9"},
	"h265": {"h265", "hevc"},
	"hevc": {"h265", "hevc"},
	"av1":  {"av1"},
}

// BuildAnswer filters an SDP's m=video payload types to those belonging to
// the chosen codec, rewriting the m=video line's payload list and dropping
// a=rtpmap|fmtp|rtcp-fb lines for removed payload types. It is idempotent:
// BuildAnswer(BuildAnswer(sdp, codec), codec) == BuildAnswer(sdp, codec).
func BuildAnswer(answerSDP, codec string) string {
	lines := strings.Split(answerSDP, "\n")
	keep := acceptedNames(codec)

	videoLineIdx := -1
	ptCodec := map[string]string{}

	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if strings.HasPrefix(line, "m=video ") {
			videoLineIdx = i
			continue
		}
		if strings.HasPrefix(line, "a=rtpmap:") {
			pt, name, ok := parseRtpmap(line)
			if ok {
				ptCodec[pt] = name
			}
		}
	}

	if videoLineIdx == -1 {
		return answerSDP
	}

	videoLine := strings.TrimRight(lines[videoLineIdx], "\r")
	fields := strings.Fields(videoLine)
	if len(fields) < 4 {
		return answerSDP
	}

	var keptPTs []string
	keptSet := map[string]bool{}
	for _, pt := range fields[3:] {
		name := ptCodec[pt]
		if matches(name, keep) {
			keptPTs = append(keptPTs, pt)
			keptSet[pt] = true
		}
	}

	newVideoLine := strings.Join(fields[:3], " ")
	if len(keptPTs) > 0 {
		newVideoLine += " " + strings.Join(keptPTs, " ")
	}
	if strings.HasSuffix(lines[videoLineIdx], "\r") {
		newVideoLine += "\r"
	}

	out := make([]string, 0, len(lines))
	for i, raw := range lines {
		line := strings.TrimRight(raw, "\r")
		if i == videoLineIdx {
			out = append(out, newVideoLine)
			continue
		}
		if pt, _, ok := parsePayloadAttr(line); ok {
			if !keptSet[pt] {
				continue
			}
		}
		out = append(out, raw)
	}

	return strings.Join(out, "\n")
}

func acceptedNames(codec string) []string {
	if names, ok := codecAliases[strings.ToLower(codec)]; ok {
		return names
	}
	return []string{strings.ToLower(codec)}
}

func matches(name string, accepted []string) bool {
	name = strings.ToLower(name)
	for _, a := range accepted {
		if name == a {
			return true
		}
	}
	return false
}

// parseRtpmap parses "a=rtpmap:<pt> <name>/<clock>" into (pt, name, ok).
func parseRtpmap(line string) (string, string, bool) {
	rest, ok := cutPrefix(line, "a=rtpmap:")
	if !ok {
		return "", "", false
	}
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	pt := parts[0]
	nameClock := strings.SplitN(parts[1], "/", 2)
	return pt, strings.ToLower(nameClock[0]), true
}

// parsePayloadAttr extracts the payload type from rtpmap/fmtp/rtcp-fb
// attribute lines.
func parsePayloadAttr(line string) (string, string, bool) {
	for _, prefix := range []string{"a=rtpmap:", "a=fmtp:", "a=rtcp-fb:"} {
		if rest, ok := cutPrefix(line, prefix); ok {
			idx := strings.IndexAny(rest, " \r")
			if idx == -1 {
				return rest, prefix, true
			}
			return rest[:idx], prefix, true
		}
	}
	return "", "", false
}

func cutPrefix(s, prefix string) (string, bool) {
	if strings.HasPrefix(s, prefix) {
		return s[len(prefix):], true
	}
	return "", false
}

// ICEParams are the three values BuildNvstSDP copies verbatim from the
// local answer.
type ICEParams struct {
	UFrag       string
	Password    string
	Fingerprint string
}

// ExtractICEParams reads a=ice-ufrag, a=ice-pwd, and a=fingerprint out of
// an SDP document.
func ExtractICEParams(sdpText string) ICEParams {
	var p ICEParams
	for _, raw := range strings.Split(sdpText, "\n") {
		line := strings.TrimRight(raw, "\r")
		switch {
		case strings.HasPrefix(line, "a=ice-ufrag:"):
			p.UFrag = strings.TrimPrefix(line, "a=ice-ufrag:")
		case strings.HasPrefix(line, "a=ice-pwd:"):
			p.Password = strings.TrimPrefix(line, "a=ice-pwd:")
		case strings.HasPrefix(line, "a=fingerprint:"):
			p.Fingerprint = strings.TrimPrefix(line, "a=fingerprint:")
		}
	}
	return p
}

func formatInt(n int) string {
	return strconv.Itoa(n)
}
