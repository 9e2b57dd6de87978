// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestServiceWrapsRunFunc(t *testing.T) {
	ran := false
	svc := Service{
		Name: "probe",
		Run: func(ctx context.Context) error {
			ran = true
			return ctx.Err()
		},
	}

	if got := svc.String(); got != "probe" {
		t.Errorf("String() = %q, want probe", got)
	}
	if err := svc.Serve(context.Background()); err != nil {
		t.Errorf("Serve: %v", err)
	}
	if !ran {
		t.Error("Run was never invoked")
	}
}

func TestHTTPServiceShutsDownOnCancel(t *testing.T) {
	svc := &HTTPService{
		Server:          &http.Server{Addr: "127.0.0.1:0"},
		ShutdownTimeout: time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	// Give ListenAndServe a moment to bind before pulling the plug.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestHTTPServiceReportsListenError(t *testing.T) {
	svc := &HTTPService{
		Server: &http.Server{Addr: "256.256.256.256:0"},
	}
	if err := svc.Serve(context.Background()); err == nil {
		t.Error("expected an error for an unbindable address")
	}
}

func TestTreeConfigDefaults(t *testing.T) {
	cfg := DefaultTreeConfig()
	if cfg.FailureThreshold <= 0 || cfg.FailureBackoff <= 0 || cfg.ShutdownTimeout <= 0 {
		t.Errorf("defaults not populated: %+v", cfg)
	}
}
