package oracle

import "encoding/json"

// CloneSnapshot returns a deep JSON clone of snap, or nil if snap is nil or
// cannot round-trip through JSON, per spec §4.11 and §9 ("Deep JSON clone
// for snapshot safety: replace with immutable value types owned by the
// caller").
func CloneSnapshot(snap *Snapshot) *Snapshot {
	if snap == nil {
		return nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil
	}
	var clone Snapshot
	if err := json.Unmarshal(raw, &clone); err != nil {
		return nil
	}
	return &clone
}
