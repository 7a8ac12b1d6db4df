// Package notify implements the connection-state notification sink
// described in spec.md §6: callers observe connection state
// transitions (and srdia window rollovers, which ride the same sink)
// without polling, via a single callback set at construction and
// structured, leveled log/slog logging.
package notify

import (
	"context"
	"log/slog"

	"github.com/railsafe/gorasta/pkg/srdia"
	"github.com/railsafe/gorasta/pkg/srmsg"
)

// ConnectionState is the subset of spec.md §3's connection state
// machine a notification sink needs to distinguish.
type ConnectionState int

const (
	StateClosed ConnectionState = iota
	StateStart
	StateDown
	StateUp
)

func (s ConnectionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateStart:
		return "start"
	case StateDown:
		return "down"
	case StateUp:
		return "up"
	default:
		return "unknown"
	}
}

// ConnectionStateEvent is delivered on every state transition, with
// the buffer and disconnect-reason fields spec.md §6 lists for
// connection_state_notification. Utilisation and OppositeBufferSize
// are always populated; DiscReason/DetailedDiscReason are only
// meaningful when Current is StateClosed - the zero values
// (DiscReasonUnknown, 0) otherwise.
type ConnectionStateEvent struct {
	ConnectionID       int
	Previous           ConnectionState
	Current            ConnectionState
	Utilisation        int
	OppositeBufferSize uint32
	DiscReason         srmsg.DiscReason
	DetailedDiscReason uint16
}

// DiagnosticEvent is delivered on every srdia window rollover or
// connection close, per spec.md §4.5.
type DiagnosticEvent struct {
	ConnectionID int
	Snapshot     srdia.Snapshot
}

// Sink receives connection state and diagnostic notifications. Both
// methods must return promptly - callers are expected to invoke Sink
// methods from the connection engine's own goroutine, synchronously,
// matching spec.md §6's "notification is issued immediately" wording.
//
// srcor itself only ever emits ConnectionStateNotification on
// disconnect (Connection.SendDiscReqMessage, transitioning StateUp to
// StateClosed): the Start/Up/Down transitions belong to the state
// machine layered on top of the connection engine (spec.md §4.4
// "State machine" is explicitly out of scope for this package), which
// is expected to call ConnectionStateNotification itself as it drives
// those transitions.
type Sink interface {
	ConnectionStateNotification(ConnectionStateEvent)
	DiagnosticNotification(DiagnosticEvent)
}

// SlogSink is the default Sink, logging every event through
// log/slog at a level proportional to its severity - state
// regressions to StateDown or StateClosed log at Warn, everything
// else at Info.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink returns a SlogSink writing through logger, or
// slog.Default() if logger is nil.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) ConnectionStateNotification(e ConnectionStateEvent) {
	level := slog.LevelInfo
	if e.Current == StateDown || e.Current == StateClosed {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "connection state changed",
		"connection_id", e.ConnectionID,
		"previous", e.Previous.String(),
		"current", e.Current.String(),
		"utilisation", e.Utilisation,
		"opposite_buffer_size", e.OppositeBufferSize,
		"disc_reason", e.DiscReason,
		"detailed_disc_reason", e.DetailedDiscReason,
	)
}

func (s *SlogSink) DiagnosticNotification(e DiagnosticEvent) {
	s.logger.Info("diagnostic window",
		"connection_id", e.ConnectionID,
		"errors_safety_code", e.Snapshot.Counters[srdia.ClassSafetyCode],
		"errors_address", e.Snapshot.Counters[srdia.ClassAddress],
		"errors_type", e.Snapshot.Counters[srdia.ClassType],
		"errors_sequence_number", e.Snapshot.Counters[srdia.ClassSequenceNumber],
		"errors_confirmed_sequence_number", e.Snapshot.Counters[srdia.ClassConfirmedSequenceNumber],
		"rtd_histogram", e.Snapshot.Histogram.Counts,
	)
}

// MultiSink fans a single event out to every sink in the list, the
// way pkg/node's heartbeat consumer fans an NMT state change out to
// every registered callback.
type MultiSink []Sink

func (m MultiSink) ConnectionStateNotification(e ConnectionStateEvent) {
	for _, s := range m {
		s.ConnectionStateNotification(e)
	}
}

func (m MultiSink) DiagnosticNotification(e DiagnosticEvent) {
	for _, s := range m {
		s.DiagnosticNotification(e)
	}
}
