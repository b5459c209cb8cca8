package webhook

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestSendAddsSigningHeaders(t *testing.T) {
	var (
		gotSig  string
		gotTS   string
		gotEvt  string
		gotID   string
		gotBody []byte
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(HeaderSignature)
		gotTS = r.Header.Get(HeaderTimestamp)
		gotEvt = r.Header.Get(HeaderEvent)
		gotID = r.Header.Get(HeaderDelivery)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(Config{
		SigningSecret:  "test-secret",
		Timeout:        2 * time.Second,
		MaxAttempts:    1,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	})

	err := client.Send(context.Background(), srv.URL, EventJobCompleted, JobEvent{JobID: "job-1", Status: "succeeded"})
	if err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	if gotTS == "" {
		t.Fatal("expected timestamp header")
	}
	if gotID == "" {
		t.Fatal("expected delivery id header")
	}
	if gotEvt != EventJobCompleted {
		t.Fatalf("expected event header job.completed, got %q", gotEvt)
	}
	if err := Verify("test-secret", gotTS, gotSig, gotBody); err != nil {
		t.Fatalf("expected signature to verify: %v", err)
	}
	if err := Verify("other-secret", gotTS, gotSig, gotBody); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestSendRetriesWithSameDeliveryID(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get(HeaderDelivery))
		n := len(ids)
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewClient(Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
	if err := client.Send(context.Background(), srv.URL, EventJobFailed, JobEvent{JobID: "job-2"}); err != nil {
		t.Fatalf("send returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ids) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(ids))
	}
	if ids[0] != ids[1] || ids[1] != ids[2] {
		t.Fatalf("expected one delivery id across retries, got %v", ids)
	}
}

func TestSendGivesUpAfterMaxAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(Config{MaxAttempts: 2, InitialBackoff: time.Millisecond})
	err := client.Send(context.Background(), srv.URL, EventJobFailed, JobEvent{})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected wrapped 500 status error, got %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{InitialBackoff: 5 * time.Second, MaxBackoff: time.Second}.withDefaults()
	if cfg.Timeout != 10*time.Second {
		t.Fatalf("expected default timeout, got %s", cfg.Timeout)
	}
	if cfg.MaxAttempts != 1 {
		t.Fatalf("expected at least one attempt, got %d", cfg.MaxAttempts)
	}
	if cfg.MaxBackoff != 5*time.Second {
		t.Fatalf("expected max backoff raised to initial, got %s", cfg.MaxBackoff)
	}
}

func TestSendSkipsEmptyEndpoint(t *testing.T) {
	client := NewClient(Config{})
	if err := client.Send(context.Background(), "  ", EventJobCompleted, JobEvent{}); err != nil {
		t.Fatalf("expected nil for empty endpoint, got %v", err)
	}
}
