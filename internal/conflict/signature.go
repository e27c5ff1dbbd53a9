package conflict

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/memento-sh/sync-core/internal/core"
)

// computeSignature derives a stable content-addressed signature for a
// conflict's diff shape, so an operator's manual resolution of one
// divergence suppresses re-reporting of the exact same divergence in
// a later sync (spec §3, §4.1.b).
func computeSignature(targetID string, diff map[string]core.ValuePair) string {
	keys := make([]string, 0, len(diff))
	for k := range diff {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "%s\n", targetID)
	for _, k := range keys {
		pair := diff[k]
		curJSON, _ := json.Marshal(pair.Current)
		incJSON, _ := json.Marshal(pair.Incoming)
		fmt.Fprintf(h, "%s=%s=>%s\n", k, curJSON, incJSON)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// conflictID derives a stable id for a conflict from its target and
// signature, so the same divergence detected twice maps to the same
// conflict record.
func conflictID(targetID, signature string) string {
	return fmt.Sprintf("conflict_%s_%s", targetID, signature[:16])
}
