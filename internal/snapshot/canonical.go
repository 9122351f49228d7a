package snapshot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalJSON produces a deterministic encoding: struct fields in
// declaration order, map keys sorted, no insignificant whitespace, no HTML
// escaping.
func CanonicalJSON(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(s); err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ComputeSnapshotRev computes the revision of a snapshot: the sha256 of its
// canonical encoding with the revision and generation time cleared.
func ComputeSnapshotRev(s *Snapshot) (string, error) {
	content := *s
	content.Meta.SnapshotRev = ""
	content.Meta.GeneratedAt = ""
	data, err := CanonicalJSON(&content)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:]), nil
}

// Verify decodes a snapshot and checks that its recorded revision matches
// its content.
func Verify(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid snapshot JSON: %w", err)
	}
	if s.Meta.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported snapshot schema version %d", s.Meta.SchemaVersion)
	}
	rev, err := ComputeSnapshotRev(&s)
	if err != nil {
		return nil, err
	}
	if s.Meta.SnapshotRev != rev {
		return nil, fmt.Errorf("snapshot revision mismatch: recorded %s, computed %s", s.Meta.SnapshotRev, rev)
	}
	return &s, nil
}
