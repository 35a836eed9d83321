package watch

import (
	"strings"
	"time"
)

// Ticker rotates through frames on every successful poll.
// Stops rotating if polls stop arriving.
type Ticker struct {
	frames   []string
	index    int
	lastTick time.Time
}

func NewTicker() Ticker {
	return Ticker{
		frames:   []string{"⟲", "⟳"},
		lastTick: time.Now(),
	}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
	t.lastTick = time.Now()
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

func (t Ticker) LastTick() time.Time {
	return t.lastTick
}

// Activity lights up when a job changes state and fades over time.
type Activity struct {
	dots       int
	lastChange time.Time
}

func (a *Activity) OnChange(now time.Time) {
	a.dots = 5
	a.lastChange = now
}

// Decay fades the dots based on time since the last change.
func (a *Activity) Decay(now time.Time) {
	if a.dots == 0 {
		return
	}
	elapsed := now.Sub(a.lastChange)
	switch {
	case elapsed > 10*time.Second:
		a.dots = 0
	case elapsed > 8*time.Second:
		a.dots = 1
	case elapsed > 6*time.Second:
		a.dots = 2
	case elapsed > 4*time.Second:
		a.dots = 3
	case elapsed > 2*time.Second:
		a.dots = 4
	}
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range 5 {
		if i < a.dots {
			b.WriteString(theme.ActiveDot.Render("●"))
		} else {
			b.WriteString(theme.IdleDot.Render("○"))
		}
	}
	return b.String()
}

func (a Activity) LastChange() time.Time {
	return a.lastChange
}
