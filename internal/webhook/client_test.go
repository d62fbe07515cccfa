package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunamismax/pixelmark/internal/domain"
)

func testClient(attempts int) *Client {
	return NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    attempts,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	})
}

func TestSendRenderEventSignsBody(t *testing.T) {
	var (
		gotSig  string
		gotTS   string
		gotEvt  string
		gotBody []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotEvt = r.Header.Get(HeaderEvent)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	event := domain.RenderEvent{JobID: "job-1", Status: domain.RenderStatusSucceeded, Key: "cat.jpg", Format: "png"}
	if err := testClient(1).SendRenderEvent(context.Background(), srv.URL, event); err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	if gotEvt != domain.EventRenderCompleted {
		t.Fatalf("expected event header %s, got %q", domain.EventRenderCompleted, gotEvt)
	}
	if gotTS == "" {
		t.Fatal("expected timestamp header")
	}
	if !Verify("test-secret", gotTS, gotBody, gotSig) {
		t.Fatalf("signature %q does not verify", gotSig)
	}
	if Verify("other-secret", gotTS, gotBody, gotSig) {
		t.Fatal("signature verified with the wrong secret")
	}

	var decoded domain.RenderEvent
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.JobID != "job-1" {
		t.Fatalf("unexpected body %+v", decoded)
	}
}

func TestSendFailedEventName(t *testing.T) {
	var gotEvt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvt = r.Header.Get(HeaderEvent)
	}))
	defer srv.Close()

	event := domain.RenderEvent{JobID: "job-2", Status: domain.RenderStatusFailed, Error: "not_found"}
	if err := testClient(1).SendRenderEvent(context.Background(), srv.URL, event); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	if gotEvt != domain.EventRenderFailed {
		t.Fatalf("expected %s, got %q", domain.EventRenderFailed, gotEvt)
	}
}

func TestSendRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := testClient(3).Send(context.Background(), srv.URL, "render.completed", map[string]string{}); err != nil {
		t.Fatalf("send returned error: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestSendDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	if err := testClient(5).Send(context.Background(), srv.URL, "render.completed", nil); err == nil {
		t.Fatal("expected error for 410 response")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestSendSkipsEmptyEndpoint(t *testing.T) {
	if err := testClient(1).Send(context.Background(), "  ", "render.completed", nil); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}
