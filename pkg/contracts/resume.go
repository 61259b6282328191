package contracts

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ResumeState is the crash-persisted progress record for one in-flight
// transfer. It is untrusted input on every load: an attacker who can write to
// local storage could otherwise mark unverified bytes as verified. The
// self-checksum covers all other fields; a state whose checksum does not match
// is discarded and the transfer restarts from zero.
type ResumeState struct {
	ArtifactID        string    `json:"artifactId"`
	ExpectedRoot      string    `json:"expectedRoot"` // hex
	VerifiedChunks    []int     `json:"verifiedChunks"`
	ChunkHashes       []string  `json:"chunkHashes"` // hex, from the manifest
	LastVerifiedChunk int       `json:"lastVerifiedChunk"`
	Timestamp         time.Time `json:"timestamp"`
	Checksum          string    `json:"checksum"` // hex, covers all other fields
}

// ComputeChecksum derives the self-checksum over every field except Checksum
// itself. Verified chunk indices are sorted so the checksum is independent of
// insertion order.
func (r *ResumeState) ComputeChecksum() string {
	indices := make([]int, len(r.VerifiedChunks))
	copy(indices, r.VerifiedChunks)
	sort.Ints(indices)

	var b strings.Builder
	b.WriteString("verity:resume:v1")
	b.WriteByte(0)
	b.WriteString(r.ArtifactID)
	b.WriteByte(0)
	b.WriteString(r.ExpectedRoot)
	b.WriteByte(0)
	for _, idx := range indices {
		fmt.Fprintf(&b, "%d,", idx)
	}
	b.WriteByte(0)
	b.WriteString(strings.Join(r.ChunkHashes, ","))
	b.WriteByte(0)
	fmt.Fprintf(&b, "%d", r.LastVerifiedChunk)
	b.WriteByte(0)
	b.WriteString(r.Timestamp.UTC().Format(time.RFC3339Nano))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Seal recomputes and stores the self-checksum. Call after every mutation,
// before persisting.
func (r *ResumeState) Seal() {
	r.Checksum = r.ComputeChecksum()
}

// Verify reports whether the stored checksum matches the other fields.
func (r *ResumeState) Verify() bool {
	return r.Checksum != "" && r.Checksum == r.ComputeChecksum()
}

// Matches reports whether this state belongs to the given artifact and
// expected root. A state for a different artifact or root is stale and must
// be discarded, never partially honored.
func (r *ResumeState) Matches(artifactID, expectedRoot string) bool {
	return r.ArtifactID == artifactID && r.ExpectedRoot == expectedRoot
}

// IsVerified reports whether the chunk at index has been verified.
func (r *ResumeState) IsVerified(index int) bool {
	for _, v := range r.VerifiedChunks {
		if v == index {
			return true
		}
	}
	return false
}

// MarkVerified records a verified chunk and advances the highest contiguous
// verified index.
func (r *ResumeState) MarkVerified(index int) {
	if !r.IsVerified(index) {
		r.VerifiedChunks = append(r.VerifiedChunks, index)
	}
	r.advance()
	r.Timestamp = time.Now().UTC()
}

func (r *ResumeState) advance() {
	verified := make(map[int]bool, len(r.VerifiedChunks))
	for _, v := range r.VerifiedChunks {
		verified[v] = true
	}
	last := -1
	for verified[last+1] {
		last++
	}
	r.LastVerifiedChunk = last
}
