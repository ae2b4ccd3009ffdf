// Package clock provides the fabric's monotonic time source and globally
// unique identifier generation. Every component that needs "now" or a new
// id goes through here so tests can substitute a fixed clock instead of
// reaching for time.Now()/uuid.New() directly.
package clock

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type (
	// Clock abstracts wall-clock time so components stay testable.
	Clock interface {
		// Now returns the current local time.
		Now() time.Time
		// NowUTC returns the current time normalized to UTC.
		NowUTC() time.Time
	}

	// systemClock is the production Clock backed by time.Now.
	systemClock struct{}
)

// System is the process-wide production clock.
var System Clock = systemClock{}

func (systemClock) Now() time.Time    { return time.Now() }
func (systemClock) NowUTC() time.Time { return time.Now().UTC() }

// NewID returns a globally unique identifier prefixed with kind (e.g. "intent",
// "execution", "event", "artifact", "session") to keep ids self-describing in
// logs, WAL payloads, and traces.
func NewID(kind string) string {
	p := strings.ReplaceAll(strings.ToLower(kind), " ", "-")
	return fmt.Sprintf("%s_%s", p, uuid.NewString())
}
