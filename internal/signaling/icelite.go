package signaling

import (
	"strconv"
	"strings"
)

// hostnameToIP parses the GFN ice-lite synthetic-candidate hostname
// convention: "a-b-c-d.cloudmatchbeta.nvidiagrid.net" where "a-b-c-d" is
// the dash-delimited IPv4 literal.
func hostnameToIP(host string) (string, bool) {
	label := host
	if idx := strings.IndexByte(host, '.'); idx >= 0 {
		label = host[:idx]
	}
	parts := strings.Split(label, "-")
	if len(parts) != 4 {
		return "", false
	}
	for _, p := range parts {
		if p == "" {
			return "", false
		}
		if _, err := strconv.Atoi(p); err != nil {
			return "", false
		}
	}
	return strings.Join(parts, "."), true
}

// portFromSDP extracts the port from the first m=video or m=audio line of
// an SDP document.
func portFromSDP(sdp string) (int, bool) {
	for _, line := range strings.Split(sdp, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "m=video ") || strings.HasPrefix(line, "m=audio ") {
			fields := strings.Fields(line)
			if len(fields) < 2 {
				continue
			}
			port, err := strconv.Atoi(fields[1])
			if err != nil {
				continue
			}
			return port, true
		}
	}
	return 0, false
}

// syntheticCandidateSDPMids is the order of sdpMid values to try when
// offering the ice-lite workaround candidate.
var syntheticCandidateSDPMids = []string{"0", "1", "2", "3"}

func isIceLite(offerSDP string) bool {
	return strings.Contains(offerSDP, "a=ice-lite")
}
