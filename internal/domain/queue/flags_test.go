package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelayBitResolved(t *testing.T) {
	tests := []struct {
		name string
		bit  RelayBit
		want bool
	}{
		{"all three conditions met", RelayBit{IsLastBranch: true, NoFurtherPages: true, NoFurtherNesting: true}, true},
		{"not the last branch", RelayBit{IsLastBranch: false, NoFurtherPages: true, NoFurtherNesting: true}, false},
		{"pages remain", RelayBit{IsLastBranch: true, NoFurtherPages: false, NoFurtherNesting: true}, false},
		{"nested fan-out remains", RelayBit{IsLastBranch: true, NoFurtherPages: true, NoFurtherNesting: false}, false},
		{"zero value unresolved", RelayBit{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.bit.Resolved())
		})
	}
}

func TestRelayBitChild(t *testing.T) {
	parent := RelayBit{IsLastBranch: true, NoFurtherPages: true, NoFurtherNesting: true}

	lastChild := parent.Child(true)
	assert.True(t, lastChild.IsLastBranch)
	assert.True(t, lastChild.Resolved())

	notLastChild := parent.Child(false)
	assert.False(t, notLastChild.IsLastBranch)
	assert.False(t, notLastChild.Resolved())

	// A non-last parent branch can never produce a resolved child, even
	// if that child happens to be the last sibling of its own batch: the
	// repo-level "last repository" bit gates the PR-level "last PR".
	notLastParent := RelayBit{IsLastBranch: false, NoFurtherPages: true, NoFurtherNesting: true}
	childOfNotLastParent := notLastParent.Child(true)
	assert.False(t, childOfNotLastParent.IsLastBranch)
	assert.False(t, childOfNotLastParent.Resolved())
}

func TestControlFlagsIsCompletionMarker(t *testing.T) {
	tests := []struct {
		name string
		f    ControlFlags
		want bool
	}{
		{"last item and job terminal", ControlFlags{LastItem: true, LastJobItem: true}, true},
		{"rate limited and job terminal without last item", ControlFlags{RateLimited: true, LastJobItem: true}, true},
		{"job terminal alone is not a completion marker", ControlFlags{LastJobItem: true}, false},
		{"last item without job terminal is not a completion marker", ControlFlags{LastItem: true}, false},
		{"zero value is not a completion marker", ControlFlags{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.f.IsCompletionMarker())
		})
	}
}
