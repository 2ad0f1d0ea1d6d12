package notifier

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhookSendSuccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, 5*time.Second, testLogger())
	if err := w.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestWebhookSendFailureStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, 5*time.Second, testLogger())
	if err := w.Send(context.Background(), "hello"); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestStdoutNeverFails(t *testing.T) {
	t.Parallel()
	s := NewStdout(testLogger())
	if err := s.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestNewFallsBackToStdoutWhenNoWebhook(t *testing.T) {
	t.Parallel()
	sink := New("", 5*time.Second, testLogger())
	if _, ok := sink.(*Stdout); !ok {
		t.Fatalf("expected Stdout fallback, got %T", sink)
	}
}
