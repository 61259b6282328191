package contracts

import "time"

// ReceiptMetadata carries incidental facts about a verification. These fields
// are deliberately excluded from the receipt hash: two receipts for the same
// verified content and signer must collide to the same hash regardless of
// metadata differences.
type ReceiptMetadata struct {
	ArtifactType ArtifactType `json:"artifactType,omitempty"`
	Size         int64        `json:"size,omitempty"`
	ChunkCount   int          `json:"chunkCount,omitempty"`
	Strategy     string       `json:"strategy,omitempty"`
}

// ArtifactReceipt is a signed, content-addressed attestation that an artifact
// was verified: this artifact/version, this root, this signer, at this time.
// Immutable once minted. ReceiptHash is computed from Root, ArtifactID,
// Version, and SignerPubkey only.
type ArtifactReceipt struct {
	ReceiptHash  string          `json:"receiptHash"` // hex
	ArtifactID   string          `json:"artifactId"`
	Version      string          `json:"version"`
	Root         []byte          `json:"root"`
	SignerPubkey []byte          `json:"signerPubkey"`
	Signature    []byte          `json:"signature"`
	Timestamp    time.Time       `json:"timestamp"`
	Metadata     ReceiptMetadata `json:"metadata"`
}

// SessionReceipt attests that an exported session bundle was verified. The
// subject is a session identifier instead of artifact id + version.
type SessionReceipt struct {
	ReceiptHash  string          `json:"receiptHash"` // hex
	SessionID    string          `json:"sessionId"`
	Root         []byte          `json:"root"`
	SignerPubkey []byte          `json:"signerPubkey"`
	Signature    []byte          `json:"signature"`
	Timestamp    time.Time       `json:"timestamp"`
	Metadata     ReceiptMetadata `json:"metadata"`
}
