package mqtt

import (
	"sync"
	"time"
)

// DailyTokens accumulates model token usage and resets at local
// midnight. Safe for concurrent use. It satisfies the agent loop's
// TokenObserver interface, so the loop reports usage here after every
// successful model round.
type DailyTokens struct {
	loc *time.Location
	now func() time.Time // replaced in tests

	mu    sync.Mutex
	day   string // local date the counters belong to, "2006-01-02"
	in    int64
	out   int64
	turns int64
}

// NewDailyTokens creates an accumulator using loc for midnight
// detection. A nil loc means [time.Local].
func NewDailyTokens(loc *time.Location) *DailyTokens {
	if loc == nil {
		loc = time.Local
	}
	d := &DailyTokens{loc: loc, now: time.Now}
	d.day = d.today()
	return d
}

// OnTokens records counts from one completed model round. When the
// local date has changed since the last recording, the counters reset
// before the new values are added.
func (d *DailyTokens) OnTokens(inputTokens, outputTokens int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rollover()
	d.in += int64(inputTokens)
	d.out += int64(outputTokens)
	d.turns++
}

// Snapshot returns the accumulated input tokens, output tokens, and
// round count after checking for midnight rollover.
func (d *DailyTokens) Snapshot() (input, output, requests int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rollover()
	return d.in, d.out, d.turns
}

// today formats the current local date. Comparing dates instead of
// day-of-year keeps the reset correct across year boundaries.
func (d *DailyTokens) today() string {
	return d.now().In(d.loc).Format("2006-01-02")
}

// rollover zeroes the counters when the local date has changed. Call
// with d.mu held.
func (d *DailyTokens) rollover() {
	if today := d.today(); today != d.day {
		d.in, d.out, d.turns = 0, 0, 0
		d.day = today
	}
}
