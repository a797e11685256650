package sdp

import (
	"strings"
	"testing"
)

const testAnswerSDP = "v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\ns=-\r\n" +
	"a=ice-ufrag:abcd\r\n" +
	"a=ice-pwd:secretpassword1234567890\r\n" +
	"a=fingerprint:sha-256 AA:BB:CC\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n"

// TestNvstSdpPure verifies determinism: identical inputs produce a
// byte-identical blob.
func TestNvstSdpPure(t *testing.T) {
	a, err := BuildNvstSDP(testAnswerSDP, 1920, 1080, 60, 20)
	if err != nil {
		t.Fatalf("BuildNvstSDP: %v", err)
	}
	b, err := BuildNvstSDP(testAnswerSDP, 1920, 1080, 60, 20)
	if err != nil {
		t.Fatalf("BuildNvstSDP: %v", err)
	}
	if a != b {
		t.Fatalf("expected byte-identical output for identical inputs:\n%q\nvs\n%q", a, b)
	}
}

func TestNvstSdpICEParamsCopiedVerbatim(t *testing.T) {
	out, err := BuildNvstSDP(testAnswerSDP, 1920, 1080, 60, 20)
	if err != nil {
		t.Fatalf("BuildNvstSDP: %v", err)
	}
	for _, want := range []string{
		"a=general.iceUserNameFragment:abcd\r\n",
		"a=general.icePassword:secretpassword1234567890\r\n",
		"a=general.dtlsFingerprint:sha-256 AA:BB:CC\r\n",
	} {
		if !containsLine(out, want) {
			t.Errorf("expected output to contain %q", want)
		}
	}
}

// TestFpsBoundaries checks that F=60 selects the non-high-fps branch,
// F=120 selects high-fps, and F=240 selects ultra-high-fps.
func TestFpsBoundaries(t *testing.T) {
	cases := []struct {
		fps                      int
		wantDRC, wantDFC, wantUltra bool
	}{
		{60, true, false, false},
		{120, false, true, false},
		{240, false, true, true},
	}

	for _, c := range cases {
		out, err := BuildNvstSDP(testAnswerSDP, 1920, 1080, c.fps, 20)
		if err != nil {
			t.Fatalf("fps=%d: BuildNvstSDP: %v", c.fps, err)
		}
		hasDRCOn := containsLine(out, "a=video.enableDRC:1\r\n")
		hasDFCOn := containsLine(out, "a=video.enableDFC:1\r\n")
		hasUltra := containsLine(out, "a=video.videoSplitEncodeStripsPerFrame:3\r\n")

		if hasDRCOn != c.wantDRC {
			t.Errorf("fps=%d: DRC enabled=%v, want %v", c.fps, hasDRCOn, c.wantDRC)
		}
		if hasDFCOn != c.wantDFC {
			t.Errorf("fps=%d: DFC enabled=%v, want %v", c.fps, hasDFCOn, c.wantDFC)
		}
		if hasUltra != c.wantUltra {
			t.Errorf("fps=%d: ultra-high-fps tunables present=%v, want %v", c.fps, hasUltra, c.wantUltra)
		}
	}
}

func TestMinTargetFpsAt120VsAbove(t *testing.T) {
	out120, _ := BuildNvstSDP(testAnswerSDP, 1920, 1080, 120, 20)
	if !containsLine(out120, "a=video.minTargetFps:100\r\n") {
		t.Errorf("F=120: expected minTargetFps=100, got:\n%s", out120)
	}
	out240, _ := BuildNvstSDP(testAnswerSDP, 1920, 1080, 240, 20)
	if !containsLine(out240, "a=video.minTargetFps:60\r\n") {
		t.Errorf("F=240: expected minTargetFps=60, got:\n%s", out240)
	}
}

func TestBitrateFormulas(t *testing.T) {
	out, err := BuildNvstSDP(testAnswerSDP, 1920, 1080, 60, 20)
	if err != nil {
		t.Fatalf("BuildNvstSDP: %v", err)
	}
	// maxBitrateMbps=20 -> B_max = 20000 kbps
	for _, want := range []string{
		"a=video.initialBitrateKbps:10000\r\n",
		"a=video.initialPeakBitrateKbps:10000\r\n",
		"a=vqos.bw.maximumBitrateKbps:20000\r\n",
		"a=vqos.bw.minimumBitrateKbps:2000\r\n",
	} {
		if !containsLine(out, want) {
			t.Errorf("expected %q in output, got:\n%s", want, out)
		}
	}
}

func TestAuxiliaryMediaSections(t *testing.T) {
	out, err := BuildNvstSDP(testAnswerSDP, 1920, 1080, 60, 20)
	if err != nil {
		t.Fatalf("BuildNvstSDP: %v", err)
	}
	for _, want := range []string{"m=audio 0", "m=mic 0", "m=application 0", "a=msid:input_1", "a=ri.partialReliableThresholdMs:300"} {
		if !containsLine(out, want+"\r\n") && !containsSubstring(out, want) {
			t.Errorf("expected auxiliary section marker %q in output", want)
		}
	}
}

func TestRejectsNonPositiveDimensions(t *testing.T) {
	if _, err := BuildNvstSDP(testAnswerSDP, 0, 1080, 60, 20); err == nil {
		t.Fatal("expected error for zero width")
	}
}

func containsLine(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}

func containsSubstring(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}
