// Package srdia implements the per-connection diagnostics counters
// and round-trip-delay histogram described in spec.md §4.5: mutex-
// protected counters with a callback fired on window rollover, plus
// a never-reset cumulative counter alongside the windowed one.
package srdia

import (
	"fmt"
	"sync"
)

// ErrorClass enumerates the five counted protocol-level error
// classes from spec.md §4.4/§8.
type ErrorClass int

const (
	ClassSafetyCode ErrorClass = iota
	ClassAddress
	ClassType
	ClassSequenceNumber
	ClassConfirmedSequenceNumber
	numClasses
)

func (c ErrorClass) String() string {
	switch c {
	case ClassSafetyCode:
		return "SafetyCode"
	case ClassAddress:
		return "Address"
	case ClassType:
		return "Type"
	case ClassSequenceNumber:
		return "SequenceNumber"
	case ClassConfirmedSequenceNumber:
		return "ConfirmedSequenceNumber"
	default:
		return "Unknown"
	}
}

// Counters holds one snapshot of the five error-class counters.
type Counters [numClasses]uint32

// Histogram is the four-bin round-trip-delay distribution described
// in spec.md §4.5, bucketed by the configured diag_timing_distr_intervals
// edges. Bin i counts observations with rtd <= Edges[i], except the
// last bin which also catches rtd > Edges[3] (there is no fifth,
// unbounded bin - overflow folds into the top bin).
type Histogram struct {
	Edges  [4]uint32
	Counts [4]uint32
}

func (h *Histogram) observe(rtd uint32) {
	for i := 0; i < 3; i++ {
		if rtd <= h.Edges[i] {
			h.Counts[i]++
			return
		}
	}
	h.Counts[3]++
}

// AreDiagnosticTimingIntervalsValid verifies strictly ascending bin
// edges with the last <= tMax, per spec.md §3/§4.5.
func AreDiagnosticTimingIntervalsValid(tMax uint32, intervals [4]uint32) bool {
	for i := 1; i < 4; i++ {
		if intervals[i] <= intervals[i-1] {
			return false
		}
	}
	return intervals[3] <= tMax
}

// Snapshot is what gets handed to a notification sink: the window's
// counters and histogram at the moment it rolled over or the
// connection closed.
type Snapshot struct {
	Counters  Counters
	Histogram Histogram
}

// NotifyFunc is called once per window rollover and once,
// synchronously, on connection closure.
type NotifyFunc func(Snapshot)

// Diagnostics is one connection's diagnostic state: a rolling window
// of n_diag_window observations (errors + timing samples) that, once
// full, emits a [Snapshot] via notify and resets - plus a separate
// cumulative (never-reset) counter set for external metrics exporters,
// since a dashboard scraped every few seconds should not see its
// history wiped every n_diag_window messages (see DESIGN.md / the
// srdia_mock-derived supplemented behavior in SPEC_FULL.md §4).
type Diagnostics struct {
	mu             sync.Mutex
	windowSize     uint32
	windowCount    uint32
	window         Counters
	windowHist     Histogram
	cumulative     Counters
	cumulativeHist Histogram
	notify         NotifyFunc
}

// New returns a Diagnostics tracker with the given window size and
// timing-distribution bin edges.
func New(windowSize uint32, intervals [4]uint32, notify NotifyFunc) *Diagnostics {
	if notify == nil {
		notify = func(Snapshot) {}
	}
	return &Diagnostics{
		windowSize:     windowSize,
		window:         Counters{},
		windowHist:     Histogram{Edges: intervals},
		cumulativeHist: Histogram{Edges: intervals},
		notify:         notify,
	}
}

// IncrementError bumps one error counter and advances the window,
// rolling it over (emitting a notification and resetting) once
// windowSize observations have accumulated.
func (d *Diagnostics) IncrementError(class ErrorClass) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.window[class]++
	d.cumulative[class]++
	d.advanceWindowLocked()
}

// ObserveRoundTripDelay records one round-trip-delay sample into the
// timing histogram and advances the window, as process_received_message
// does for every time-relevant PDU (spec.md §4.4).
func (d *Diagnostics) ObserveRoundTripDelay(rtd uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.windowHist.observe(rtd)
	d.cumulativeHist.observe(rtd)
	d.advanceWindowLocked()
}

func (d *Diagnostics) advanceWindowLocked() {
	d.windowCount++
	if d.windowCount < d.windowSize {
		return
	}
	snap := Snapshot{Counters: d.window, Histogram: d.windowHist}
	d.window = Counters{}
	d.windowHist = Histogram{Edges: d.windowHist.Edges}
	d.windowCount = 0
	d.notify(snap)
}

// Close emits a final notification synchronously, regardless of the
// window's fill level, per spec.md §4.5 and the send_disc_req_message
// contract in §4.4.
func (d *Diagnostics) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	snap := Snapshot{Counters: d.window, Histogram: d.windowHist}
	d.notify(snap)
}

// Cumulative returns the lifetime (never-reset) counters and
// histogram, for metrics exporters that should not lose history on
// every window rollover.
func (d *Diagnostics) Cumulative() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{Counters: d.cumulative, Histogram: d.cumulativeHist}
}

// Labeled formats a class counter as a metrics label, for exporters
// that want a single string key rather than the ErrorClass enum.
func (c ErrorClass) Labeled(connectionID int) string {
	return fmt.Sprintf("connection_id=%d,class=%s", connectionID, c)
}
