package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/repr0bated/substrate/logging"
)

func TestNUMAPinnerDisabledIsNoop(t *testing.T) {
	p := newNUMAPinner(false, logging.NoOpLogger{})

	unpin, node, pinned := p.pin()
	assert.False(t, pinned)
	assert.Equal(t, -1, node)
	unpin() // must never panic, even though pinning never happened
}

func TestNUMAPinnerPinAlwaysReturnsUsableUnpin(t *testing.T) {
	// Enabled on a host this test can't control the topology of: pin
	// must still return a callable unpin regardless of whether the
	// underlying platform actually supports affinity (spec §4.4:
	// pinning failures are non-fatal).
	p := newNUMAPinner(true, logging.NoOpLogger{})

	unpin, _, _ := p.pin()
	assert.NotPanics(t, func() { unpin() })
}
