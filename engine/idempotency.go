package engine

import (
	"crypto/sha256"
	"encoding/hex"
)

// computeIdempotencyKey hashes (workflowID, triggerSlug, eventID) into the
// deterministic key Run stores on every Checkpoint it saves
// (Checkpoint.IdempotencyKey): the same trigger event always hashes to the
// same key.
func computeIdempotencyKey(workflowID, triggerSlug, eventID string) string {
	h := sha256.New()
	h.Write([]byte(workflowID))
	h.Write([]byte{0})
	h.Write([]byte(triggerSlug))
	h.Write([]byte{0})
	h.Write([]byte(eventID))
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}
