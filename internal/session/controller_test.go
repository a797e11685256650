package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nvstream/gfn-client/internal/errs"
)

// TestHappyPath covers the end-to-end claim flow: POST /session returns a
// queued session, two GETs observe status 6, the third observes 2 with
// connection info; PUT claims the session.
func TestHappyPath(t *testing.T) {
	getCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(sessionResponse{SessionID: "S", Status: int(StatusQueued)})
		}
	})
	mux.HandleFunc("/session/S", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			getCalls++
			status := StatusQueued
			if getCalls >= 3 {
				status = StatusReady
			}
			resp := sessionResponse{Status: int(status)}
			if status == StatusReady {
				resp.ConnectionInfo = []ConnectionInfo{{IP: "1.2.3.4", Port: 49000, Usage: UsagePrimaryMedia}}
				resp.SignalingURL2 = "wss://1-2-3-4.host/nvst/"
			}
			json.NewEncoder(w).Encode(resp)
		case http.MethodPut:
			json.NewEncoder(w).Encode(sessionResponse{
				Status:         int(StatusReady),
				ConnectionInfo: []ConnectionInfo{{IP: "1.2.3.4", Port: 49000, Usage: UsagePrimaryMedia}},
				SignalingURL2:  "wss://1-2-3-4.host/nvst/",
			})
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewController(srv.URL, "token")
	ctx := context.Background()

	sess, err := c.Start(ctx, StreamingOptions{AppID: 1})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sess.Status != StatusQueued {
		t.Fatalf("expected queued, got %v", sess.Status)
	}

	if _, err := c.WaitReady(ctx, 10*time.Second); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}

	claimed, err := c.Claim(ctx, 1920, 1080, 60)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if claimed.ServerHost != "1-2-3-4.host" {
		t.Errorf("expected server_host 1-2-3-4.host, got %q", claimed.ServerHost)
	}
	media, ok := claimed.PrimaryMedia()
	if !ok || media.IP != "1.2.3.4" || media.Port != 49000 {
		t.Errorf("expected primary media 1.2.3.4:49000, got %+v (ok=%v)", media, ok)
	}
	if c.State() != Ready {
		t.Errorf("expected state Ready, got %v", c.State())
	}
}

// TestUsage17Fallback mirrors scenario 2: usage 14 is signaling and must
// never be chosen for media; usage 17 is the documented fallback.
func TestUsage17Fallback(t *testing.T) {
	sess := &Session{
		ConnectionInfo: []ConnectionInfo{
			{Usage: UsageSignaling, IP: "H", Port: 443},
			{Usage: UsageFallbackMedia, IP: "M", Port: 12345},
		},
	}
	media, ok := sess.PrimaryMedia()
	if !ok {
		t.Fatal("expected fallback media entry to resolve")
	}
	if media.IP != "M" || media.Port != 12345 {
		t.Errorf("expected fallback M:12345, got %+v", media)
	}
}

// TestRegionUnsupported mirrors scenario 6: POST /session returns HTTP 400
// with a REGION_NOT_SUPPORTED* code. Expected: no retry, state Ended,
// error code RegionUnsupported.
func TestRegionUnsupported(t *testing.T) {
	mux := http.NewServeMux()
	posts := 0
	mux.HandleFunc("/session", func(w http.ResponseWriter, r *http.Request) {
		posts++
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(apiErrorBody{Code: "REGION_NOT_SUPPORTED_ABC"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewController(srv.URL, "token")
	_, err := c.Start(context.Background(), StreamingOptions{AppID: 1})
	if err == nil {
		t.Fatal("expected error")
	}
	if errs.CodeOf(err) != errs.RegionUnsupported {
		t.Fatalf("expected RegionUnsupported, got %v (%T)", errs.CodeOf(err), err)
	}
	if posts != 1 {
		t.Errorf("expected exactly one POST (no retry on 400), got %d", posts)
	}
	if c.State() != Ended {
		t.Errorf("expected state Ended, got %v", c.State())
	}
}
