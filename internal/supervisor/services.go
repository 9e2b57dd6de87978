// VARBooth - Video Assistant Referee Orchestration for FRC Events
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/varbooth/varbooth

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/varbooth/varbooth/internal/logging"
)

// Service wraps a named run function as a suture.Service. Components
// that already implement Serve directly do not need it.
type Service struct {
	Name string
	Run  func(ctx context.Context) error
}

func (s Service) Serve(ctx context.Context) error {
	return s.Run(ctx)
}

func (s Service) String() string {
	return s.Name
}

// HTTPService runs an http.Server under supervision, shutting it down
// gracefully when the context is canceled.
type HTTPService struct {
	Server          *http.Server
	ShutdownTimeout time.Duration
}

func (s *HTTPService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		timeout := s.ShutdownTimeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.Server.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("http server shutdown error")
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *HTTPService) String() string {
	return "http-server"
}
