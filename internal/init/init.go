// Package init sets process-wide logging defaults before any other package initializes.
// Import it with a blank identifier as the first import of a binary.
package init

import (
	"time"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond
	zerolog.DurationFieldInteger = true
}
