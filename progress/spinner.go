package progress

import (
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner shows activity without a known total. The frame advances with
// wall time, so it needs no goroutine of its own.
type Spinner struct {
	mu sync.Mutex

	message string
	started time.Time
	stopped time.Time
}

func NewSpinner(message string) *Spinner {
	return &Spinner{message: message, started: time.Now()}
}

func (s *Spinner) SetMessage(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.message = message
}

func (s *Spinner) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out string
	if s.message != "" {
		out = s.message + " "
	}

	if s.stopped.IsZero() {
		frame := int(time.Since(s.started)/(100*time.Millisecond)) % len(spinnerFrames)
		out += spinnerFrames[frame] + " "
	}

	return out
}

func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.IsZero() {
		s.stopped = time.Now()
	}
}
