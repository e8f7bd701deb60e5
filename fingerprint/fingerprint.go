// Package fingerprint computes the stable content fingerprints the
// rest of the substrate keys its cache and audit log on: a hash of raw
// bytes, and a hash of an agent sequence's identity.
//
// Grounded on original_source's orchestrator.rs (hash_bytes,
// hash_sequence) and workstack_cache.rs's cache-key derivation — both
// sha256, hex-encoded.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// sequenceSeparator joins agent ids before hashing a sequence identity.
// Spec §6 requires a fixed, non-empty separator that can never appear
// in an agent id; this mirrors the Rust original's choice of a
// non-ASCII arrow so that no plausible identifier string collides with it.
const sequenceSeparator = "→" // →

// Of returns the lower-case hex SHA-256 digest of data. This is the
// "InputFingerprint" of spec §3.
func Of(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SequenceID returns the stable identity of an ordered agent-id list,
// independent of any particular input (spec §3's "SequenceId — stable
// hash of agent ids joined by an in-band separator"). Two runs of the
// same agent sequence over different inputs must produce the same
// SequenceID so the pattern tracker's call counts accumulate per
// sequence rather than per call (spec §8 scenario 6). The pipeline's
// cache namespace uses Sequence instead, which also covers the input.
func SequenceID(agentIDs []string) string {
	h := sha256.New()
	for i, id := range agentIDs {
		if i > 0 {
			h.Write([]byte(sequenceSeparator))
		}
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Sequence returns the stable fingerprint of an ordered agent-id list
// combined with the pipeline's current input bytes. Permuting agentIDs
// or changing input changes the result (spec §8 property 8).
func Sequence(agentIDs []string, input []byte) string {
	h := sha256.New()
	for i, id := range agentIDs {
		if i > 0 {
			h.Write([]byte(sequenceSeparator))
		}
		h.Write([]byte(id))
	}
	h.Write(input)
	return hex.EncodeToString(h.Sum(nil))
}

// CacheKey derives the deterministic key for one cached step: the hash
// of sequenceID, stepIndex, and the input fingerprint at that step
// (spec §3's CacheKey, matching workstack_cache.rs's
// sha256("{workstack_id}:{step_index}:{input_hash}")).
func CacheKey(sequenceID string, stepIndex int, inputFingerprint string) string {
	h := sha256.New()
	h.Write([]byte(sequenceID))
	h.Write([]byte(":"))
	h.Write([]byte(strconv.Itoa(stepIndex)))
	h.Write([]byte(":"))
	h.Write([]byte(inputFingerprint))
	return hex.EncodeToString(h.Sum(nil))
}
