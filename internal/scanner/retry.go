package scanner

import (
	"fmt"

	"device-scanner/internal/model"
	"device-scanner/internal/utils"
)

// openWithRetry makes exactly OpenAttempts calls to Open with RetryDelay
// between failures. It returns the number of attempts made.
func (s *Scanner) openWithRetry(deviceType, portID string) (model.Connection, int, error) {
	log := utils.NewDeviceLogger(s.logger, deviceType, portID)
	maxAttempts := s.opts.OpenAttempts

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conn, err := s.opener.Open(portID)
		log.LogAttempt(attempt, maxAttempts, err)
		if err == nil {
			log.LogConnection("open", true, nil)
			return conn, attempt, nil
		}
		lastErr = err

		if attempt < maxAttempts && s.opts.RetryDelay > 0 {
			s.clock.Sleep(s.opts.RetryDelay)
		}
	}

	err := fmt.Errorf("%w after %d attempts: %w", ErrOpenExhausted, maxAttempts, lastErr)
	log.LogConnection("open", false, err)
	return nil, maxAttempts, err
}
