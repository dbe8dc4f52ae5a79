package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// debouncer coalesces rapid events for the same path so editor save
// storms trigger one re-index, not dozens. Coalescing rules:
//   - create then modify stays create (the file is still new)
//   - create then delete cancels out (the file never really existed)
//   - modify then delete becomes delete
//   - delete then create becomes modify (the file was replaced)
type debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]Event
	firstOp map[string]Op
	out     chan []Event
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window:  window,
		pending: make(map[string]Event),
		firstOp: make(map[string]Op),
		out:     make(chan []Event, 8),
	}
}

func (d *debouncer) output() <-chan []Event {
	return d.out
}

func (d *debouncer) add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if first, ok := d.firstOp[ev.Path]; ok {
		switch {
		case first == OpCreate && ev.Op == OpDelete:
			delete(d.pending, ev.Path)
			delete(d.firstOp, ev.Path)
		case first == OpCreate:
			ev.Op = OpCreate
			d.pending[ev.Path] = ev
		case first == OpDelete && ev.Op == OpCreate:
			ev.Op = OpModify
			d.pending[ev.Path] = ev
			d.firstOp[ev.Path] = OpModify
		default:
			d.pending[ev.Path] = ev
		}
	} else {
		d.pending[ev.Path] = ev
		d.firstOp[ev.Path] = ev.Op
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}

	batch := make([]Event, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	d.pending = make(map[string]Event)
	d.firstOp = make(map[string]Op)

	select {
	case d.out <- batch:
	default:
		slog.Warn("watch batch dropped, consumer too slow",
			slog.Int("events", len(batch)))
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.out)
}
