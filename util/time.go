package util

import (
	"fmt"
	"time"
)

// Ticker sends on C at a fixed period, aligned to the period boundary plus
// offset into the day. Unlike time.Ticker the first fire lands on the
// boundary, so a 60s ticker fires on the minute.
type Ticker struct {
	C <-chan time.Time
}

// NextAligned returns the first boundary after now.
func NextAligned(now time.Time, offset time.Duration, d time.Duration) time.Time {
	t := now.Truncate(d).Add(offset)
	if t.After(now) {
		return t
	}
	return t.Add(d)
}

func NewTicker(offset time.Duration, d time.Duration) *Ticker {
	if d <= 0 {
		panic("non-positive interval for NewTicker")
	}

	now := time.Now()
	next := NextAligned(now, offset, d)

	// 1-element buffer: if the consumer falls behind, ticks are dropped
	// rather than queued.
	c := make(chan time.Time, 1)
	t := &Ticker{C: c}

	time.AfterFunc(next.Sub(now), func() {
		for {
			select {
			case c <- time.Now():
			default:
			}
			next = next.Add(d)
			time.Sleep(next.Sub(time.Now()))
		}
	})

	return t
}

func number(n int, suffix string) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%d%s", n, suffix)
}

func joinpair(a, b string) string {
	if a != "" && b != "" {
		return a + " " + b
	}
	return a + b
}

// ShortDuration formats a duration compactly: "2d 4h", "3m 2s".
func ShortDuration(d time.Duration) string {
	switch {
	case d.Hours() >= 24:
		days := int(d.Hours() / 24)
		hours := int(d.Hours()) - days*24
		return joinpair(number(days, "d"), number(hours, "h"))
	case d.Hours() >= 1:
		hours := int(d.Hours())
		mins := int(d.Minutes()) - 60*hours
		return joinpair(number(hours, "h"), number(mins, "m"))
	case d.Minutes() >= 1:
		mins := int(d.Minutes())
		secs := int(d.Seconds()) - 60*mins
		return joinpair(number(mins, "m"), number(secs, "s"))
	case d.Seconds() >= 1:
		return number(int(d.Seconds()), "s")
	case d.Nanoseconds() >= 1e6:
		return number(int(d.Seconds()*1000), "ms")
	}
	return "0s"
}
