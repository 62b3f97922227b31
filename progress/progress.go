package progress

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/containerd/console"
)

const (
	defaultTermWidth  = 80
	defaultTermHeight = 24
)

// termSize reports the size of the terminal attached to stderr, falling
// back to 80x24 when stderr is not a console.
func termSize() (width, height int) {
	c, err := console.ConsoleFromFile(os.Stderr)
	if err != nil {
		return defaultTermWidth, defaultTermHeight
	}

	size, err := c.Size()
	if err != nil || size.Width == 0 || size.Height == 0 {
		return defaultTermWidth, defaultTermHeight
	}

	return int(size.Width), int(size.Height)
}

type State interface {
	String() string
}

type Progress struct {
	mu sync.Mutex
	// buffer output to minimize flickering on all terminals
	w *bufio.Writer

	pos int

	ticker *time.Ticker
	done   chan struct{}
	lines  []line
}

type line struct {
	key   string
	state State
}

func NewProgress(w io.Writer) *Progress {
	p := &Progress{
		w:      bufio.NewWriter(w),
		ticker: time.NewTicker(100 * time.Millisecond),
		done:   make(chan struct{}),
	}
	go p.start(p.ticker, p.done)
	return p
}

func (p *Progress) stop() bool {
	p.mu.Lock()
	for _, l := range p.lines {
		if spinner, ok := l.state.(*Spinner); ok {
			spinner.Stop()
		}
	}

	ticker := p.ticker
	p.ticker = nil
	p.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(p.done)
		p.render()
		return true
	}

	return false
}

func (p *Progress) Stop() bool {
	stopped := p.stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	if stopped {
		fmt.Fprintln(p.w)
	}

	// show cursor
	fmt.Fprint(p.w, "\033[?25h")
	p.w.Flush()
	return stopped
}

func (p *Progress) StopAndClear() bool {
	stopped := p.stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	if stopped {
		// clear all progress lines
		for range p.pos - 1 {
			fmt.Fprint(p.w, "\033[A")
		}

		fmt.Fprint(p.w, "\033[2K", "\033[1G")
	}

	// show cursor
	fmt.Fprint(p.w, "\033[?25h")
	p.w.Flush()
	return stopped
}

// Add appends a line, or replaces the line already added under a
// non-empty key. A replaced spinner is stopped.
func (p *Progress) Add(key string, state State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if key != "" {
		for i, l := range p.lines {
			if l.key == key {
				if spinner, ok := l.state.(*Spinner); ok {
					spinner.Stop()
				}

				p.lines[i].state = state
				return
			}
		}
	}

	p.lines = append(p.lines, line{key: key, state: state})
}

func (p *Progress) render() {
	_, termHeight := termSize()

	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprint(p.w, "\033[?2026h")
	defer fmt.Fprint(p.w, "\033[?2026l")

	for range p.pos - 1 {
		fmt.Fprint(p.w, "\033[A")
	}

	fmt.Fprint(p.w, "\033[1G")

	// render progress lines
	visible := p.lines[len(p.lines)-min(len(p.lines), termHeight):]
	for i, l := range visible {
		if i > 0 {
			fmt.Fprint(p.w, "\n")
		}
		fmt.Fprint(p.w, l.state.String(), "\033[K")
	}

	p.pos = len(visible)
	p.w.Flush()
}

func (p *Progress) start(ticker *time.Ticker, done chan struct{}) {
	p.mu.Lock()
	// hide cursor
	fmt.Fprint(p.w, "\033[?25l")
	p.mu.Unlock()

	for {
		select {
		case <-ticker.C:
			p.render()
		case <-done:
			return
		}
	}
}
