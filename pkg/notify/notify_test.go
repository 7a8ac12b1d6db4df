package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/railsafe/gorasta/pkg/srdia"
)

type recordingSink struct {
	states []ConnectionStateEvent
	diags  []DiagnosticEvent
}

func (r *recordingSink) ConnectionStateNotification(e ConnectionStateEvent) { r.states = append(r.states, e) }
func (r *recordingSink) DiagnosticNotification(e DiagnosticEvent)           { r.diags = append(r.diags, e) }

func TestMultiSinkFansOutToEverySink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := MultiSink{a, b}

	m.ConnectionStateNotification(ConnectionStateEvent{ConnectionID: 1, Previous: StateDown, Current: StateUp})
	m.DiagnosticNotification(DiagnosticEvent{ConnectionID: 1, Snapshot: srdia.Snapshot{}})

	for _, s := range []*recordingSink{a, b} {
		assert.Len(t, s.states, 1)
		assert.Len(t, s.diags, 1)
		assert.Equal(t, StateUp, s.states[0].Current)
	}
}

func TestSlogSinkDoesNotPanic(t *testing.T) {
	sink := NewSlogSink(nil)
	assert.NotPanics(t, func() {
		sink.ConnectionStateNotification(ConnectionStateEvent{ConnectionID: 2, Previous: StateUp, Current: StateClosed})
		sink.DiagnosticNotification(DiagnosticEvent{ConnectionID: 2, Snapshot: srdia.Snapshot{}})
	})
}

func TestConnectionStateStringers(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "start", StateStart.String())
	assert.Equal(t, "down", StateDown.String())
	assert.Equal(t, "up", StateUp.String())
}
