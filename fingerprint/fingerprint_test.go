package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOfDeterministic(t *testing.T) {
	a := Of([]byte("hello"))
	b := Of([]byte("hello"))
	assert.Equal(t, a, b, "Of must be deterministic")
	assert.NotEqual(t, a, Of([]byte("hellp")), "different input produced same fingerprint")
}

func TestSequencePermutationChangesID(t *testing.T) {
	input := []byte("code")
	id1 := Sequence([]string{"analyzer", "tester"}, input)
	id2 := Sequence([]string{"tester", "analyzer"}, input)
	assert.NotEqual(t, id1, id2, "permuting agent order did not change sequence id")
}

func TestSequenceInputChangesID(t *testing.T) {
	agents := []string{"analyzer", "tester"}
	id1 := Sequence(agents, []byte("a"))
	id2 := Sequence(agents, []byte("b"))
	assert.NotEqual(t, id1, id2, "swapping input did not change sequence id")
}

func TestSequenceIDStableAcrossInputs(t *testing.T) {
	agents := []string{"agent_a", "agent_b"}
	id1 := SequenceID(agents)
	id2 := SequenceID(agents)
	assert.Equal(t, id1, id2, "SequenceID must be deterministic")
	assert.NotEqual(t, SequenceID([]string{"agent_b", "agent_a"}), id1, "permuting agent order did not change SequenceID")
}

func TestCacheKeyDeterministic(t *testing.T) {
	k1 := CacheKey("seq1", 2, "fp1")
	k2 := CacheKey("seq1", 2, "fp1")
	assert.Equal(t, k1, k2, "CacheKey must be deterministic")
	assert.NotEqual(t, k1, CacheKey("seq1", 3, "fp1"), "different step index produced same cache key")
}
