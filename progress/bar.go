package progress

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tokenkit/tokenkit/format"
)

// sampleEvery is the shortest interval the transfer rate is measured over.
const sampleEvery = 500 * time.Millisecond

// Bar tracks one download, such as a rank file being pulled.
type Bar struct {
	mu sync.Mutex

	label     string
	total     int64
	completed int64

	// rate is a moving average of bytes per second
	rate      float64
	sampledAt time.Time
	sampled   int64
}

func NewBar(label string, total, completed int64) *Bar {
	b := &Bar{label: strings.TrimSpace(label), total: total, sampledAt: time.Now()}
	b.completed = b.clamp(completed)
	b.sampled = b.completed
	return b
}

// clamp keeps v within the total when the total is known.
func (b *Bar) clamp(v int64) int64 {
	v = max(v, 0)
	if b.total > 0 {
		v = min(v, b.total)
	}

	return v
}

func (b *Bar) Set(completed int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed = b.clamp(completed)
	b.sample(time.Now())
}

// SetTotal updates the size once the server reports it.
func (b *Bar) SetTotal(total int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = total
	b.completed = b.clamp(b.completed)
}

func (b *Bar) sample(now time.Time) {
	elapsed := now.Sub(b.sampledAt)
	if elapsed < sampleEvery {
		return
	}

	current := float64(b.completed-b.sampled) / elapsed.Seconds()
	if b.rate == 0 {
		b.rate = current
	} else {
		b.rate = 0.3*current + 0.7*b.rate
	}

	b.sampledAt, b.sampled = now, b.completed
}

func (b *Bar) percent() float64 {
	if b.total <= 0 {
		return 0
	}

	return float64(b.completed) / float64(b.total) * 100
}

// eta renders a remaining time with at most two units.
func eta(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d >= 100*time.Hour:
		return ">99h"
	case d >= time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
}

func (b *Bar) String() string {
	width, _ := termSize()
	return b.render(width)
}

// render lays the bar out as "label  42% ▕███   ▏ 1.68 MB/3.61 MB 350 KB/s 6s",
// dropping the bar itself when width leaves no room for it.
func (b *Bar) render(width int) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	percent := b.percent()

	left := fmt.Sprintf("%3d%%", int(percent))
	if b.label != "" {
		left = b.label + " " + left
	}

	right := format.HumanBytes(b.completed) + "/" + format.HumanBytes(b.total)
	if b.completed < b.total && b.rate > 0 {
		remaining := time.Duration(float64(b.total-b.completed) / b.rate * float64(time.Second))
		right += " " + format.HumanBytes(int64(b.rate)) + "/s " + eta(remaining)
	}

	// two spaces around the bar plus its two edges
	room := width - len(left) - len(right) - 4
	if room <= 0 {
		return left + " " + right
	}

	filled := int(float64(room) * percent / 100)
	return left + " ▕" + strings.Repeat("█", filled) + strings.Repeat(" ", room-filled) + "▏ " + right
}
