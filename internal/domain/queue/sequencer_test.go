package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequencerFlags(t *testing.T) {
	tests := []struct {
		name         string
		n            int
		inheritFirst bool
		inheritLast  bool
		jobTerminal  bool
		i            int
		relayResolved bool
		want         ControlFlags
	}{
		{
			name: "zero items never sets first or last",
			n: 0, inheritFirst: true, inheritLast: true, jobTerminal: true,
			i: 0, relayResolved: true, want: ControlFlags{},
		},
		{
			name: "single item collapses first, last, and job-terminal onto one message",
			n: 1, inheritFirst: true, inheritLast: true, jobTerminal: true,
			i: 0, relayResolved: true, want: ControlFlags{FirstItem: true, LastItem: true, LastJobItem: true},
		},
		{
			name: "middle of a batch carries no terminal flags",
			n: 5, inheritFirst: true, inheritLast: true, jobTerminal: true,
			i: 2, relayResolved: true, want: ControlFlags{},
		},
		{
			name: "last index without relay resolution stays unset",
			n: 5, inheritFirst: false, inheritLast: true, jobTerminal: true,
			i: 4, relayResolved: false, want: ControlFlags{},
		},
		{
			name: "last index with relay resolution sets last but not job-terminal when not job-terminal batch",
			n: 5, inheritFirst: false, inheritLast: true, jobTerminal: false,
			i: 4, relayResolved: true, want: ControlFlags{LastItem: true},
		},
		{
			name: "not the inherited batch never sets last even at final index",
			n: 5, inheritFirst: false, inheritLast: false, jobTerminal: true,
			i: 4, relayResolved: true, want: ControlFlags{},
		},
		{
			name: "first index of a batch that doesn't inherit first stays unset",
			n: 5, inheritFirst: false, inheritLast: false, jobTerminal: false,
			i: 0, relayResolved: true, want: ControlFlags{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq := NewSequencer(tt.n, tt.inheritFirst, tt.inheritLast, tt.jobTerminal)
			got := seq.Flags(tt.i, tt.relayResolved)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSequencerBulkReplayTwelveRows(t *testing.T) {
	// Spec §8 scenario 6: a 12-row bulk re-embed places first_item on row
	// 1 and last_item/last_job_item on row 12 only.
	seq := NewSequencer(12, true, true, true)

	for i := 0; i < 12; i++ {
		flags := seq.Flags(i, true)
		switch i {
		case 0:
			assert.True(t, flags.FirstItem)
			assert.False(t, flags.LastItem)
		case 11:
			assert.False(t, flags.FirstItem)
			assert.True(t, flags.LastItem)
			assert.True(t, flags.LastJobItem)
		default:
			assert.Equal(t, ControlFlags{}, flags)
		}
	}
}

func TestCompletionMarker(t *testing.T) {
	assert.Equal(t, ControlFlags{LastItem: true, LastJobItem: true}, CompletionMarker(false))
	assert.Equal(t, ControlFlags{LastItem: true, LastJobItem: true, RateLimited: true}, CompletionMarker(true))
}
