package email

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// idleStopTimeout bounds how long DONE may take before the connection is dropped
const idleStopTimeout = 10 * time.Second

// WaitForChange blocks in IDLE on the selected folder until the server
// pushes a message count other than the one last seen, timeout elapses or
// ctx is done. It reports whether such a push arrived; callers should still
// compare message counts since pushes can be missed. Servers without IDLE
// are polled with NOOP.
func (s *Session) WaitForChange(ctx context.Context, timeout time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.unlock()

	if err := s.ready(ctx); err != nil {
		return false, err
	}

	// IDLE runs longer than any command; restored once it has ended
	imapClient := s.client
	imapClient.Timeout = 0

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Idle(stop, nil)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	changed := false
wait:
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("idle cancelled")
			break wait
		case <-timer.C:
			s.logger.Debug("idle timeout", "folder", s.selected)
			break wait
		case <-s.changed:
			// A push of the count we already know echoes our own SELECT
			if n := s.pushed.Load(); n != s.exists.Load() {
				changed = true
				s.logger.Debug("idle update received", "folder", s.selected, "messages", n)
				break wait
			}
		case err := <-done:
			imapClient.Timeout = s.timeout
			if err == nil {
				err = errors.New("idle ended unexpectedly")
			}
			return false, fmt.Errorf("failed to idle: %w", err)
		}
	}

	close(stop)

	stopTimer := time.NewTimer(idleStopTimeout)
	defer stopTimer.Stop()

	select {
	case err := <-done:
		imapClient.Timeout = s.timeout
		if err != nil {
			return changed, fmt.Errorf("failed to stop idle: %w", err)
		}
	case <-stopTimer.C:
		imapClient.Terminate()
		return changed, errors.New("failed to stop idle: timed out")
	}

	return changed, nil
}
