// Package format renders counts, sizes and rates for terminal output.
package format

import (
	"fmt"
	"time"
)

type unit struct {
	size   float64
	suffix string
}

var (
	numberUnits = []unit{{1e12, "T"}, {1e9, "B"}, {1e6, "M"}, {1e3, "K"}}
	byteUnits   = []unit{{1e12, " TB"}, {1e9, " GB"}, {1e6, " MB"}, {1e3, " KB"}}
)

// scale divides n by the largest unit it reaches. ok is false below the
// smallest unit.
func scale(n float64, units []unit) (string, bool) {
	for _, u := range units {
		if n >= u.size {
			return decimalPlace(n/u.size) + u.suffix, true
		}
	}

	return "", false
}

// HumanNumber abbreviates counts such as vocabulary sizes: 50257 is "50.3K".
func HumanNumber(b uint64) string {
	if s, ok := scale(float64(b), numberUnits); ok {
		return s
	}

	return fmt.Sprintf("%d", b)
}

// HumanBytes renders a size in decimal units with three significant
// digits: a 1681575 byte rank file is "1.68 MB".
func HumanBytes(b int64) string {
	if b < 0 {
		return "-" + HumanBytes(-b)
	}

	if s, ok := scale(float64(b), byteUnits); ok {
		return s
	}

	return fmt.Sprintf("%d B", b)
}

// Rate renders bytes transferred over d as a per-second size.
func Rate(b int64, d time.Duration) string {
	if d <= 0 {
		return "-"
	}

	return HumanBytes(int64(float64(b)/d.Seconds())) + "/s"
}

func decimalPlace(number float64) string {
	switch {
	case number >= 100:
		return fmt.Sprintf("%.0f", number)
	case number >= 10:
		return fmt.Sprintf("%.1f", number)
	default:
		return fmt.Sprintf("%.2f", number)
	}
}

// Ratio renders how many bytes of text each token covers on average.
func Ratio(bytes, tokens int) string {
	if tokens == 0 {
		return "-"
	}

	return fmt.Sprintf("%.2f bytes/token", float64(bytes)/float64(tokens))
}
