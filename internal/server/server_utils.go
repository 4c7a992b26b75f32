package server

import (
	"fmt"

	"github.com/life-stream-dev/pitstopper/internal/mqtt"
)

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", mqtt.ErrProtocolViolation, fmt.Sprintf(format, args...))
}
