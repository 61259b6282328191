// Package receipts mints and verifies content-addressed, signed attestations
// that an artifact or session was verified. The receipt hash is computed from
// the root, the subject identifier, and the signer's public key only —
// mutable metadata (size, chunk count, timestamps) is deliberately excluded,
// so two receipts for the same verified content and the same signer always
// collide to the same hash.
package receipts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/verity/pkg/audit"
	"github.com/Mindburn-Labs/verity/pkg/contracts"
	"github.com/Mindburn-Labs/verity/pkg/crypto"
	"github.com/Mindburn-Labs/verity/pkg/store"
)

// Canonical message prefixes. Versioned so a future message layout can
// coexist with receipts minted under this one.
const (
	artifactMsgPrefix = "verity:receipt:artifact:v1"
	sessionMsgPrefix  = "verity:receipt:session:v1"
	receiptHashPrefix = "verity:receipt:hash:v1"
)

// Engine mints, verifies, and persists receipts.
type Engine struct {
	receipts store.ReceiptStore
	auditor  audit.Logger
	logger   *slog.Logger
}

// NewEngine creates a receipt engine. The audit logger may be nil; audit
// failures never mask the verification result either way.
func NewEngine(receipts store.ReceiptStore, auditor audit.Logger, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		receipts: receipts,
		auditor:  auditor,
		logger:   logger.With("component", "receipts"),
	}
}

// artifactMessage is the canonical byte sequence signed for an artifact
// receipt: the subject identifier, version, and root joined with fixed
// separators.
func artifactMessage(artifactID, version string, root []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(artifactMsgPrefix)
	buf.WriteString(crypto.SigSeparator)
	buf.WriteString(artifactID)
	buf.WriteString(crypto.SigSeparator)
	buf.WriteString(version)
	buf.WriteString(crypto.SigSeparator)
	buf.WriteString(hex.EncodeToString(root))
	return buf.Bytes()
}

func sessionMessage(sessionID string, root []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(sessionMsgPrefix)
	buf.WriteString(crypto.SigSeparator)
	buf.WriteString(sessionID)
	buf.WriteString(crypto.SigSeparator)
	buf.WriteString(hex.EncodeToString(root))
	return buf.Bytes()
}

// receiptHash derives the content address from root, subject, and signer
// only.
func receiptHash(root []byte, subjectParts []string, signerPubkey []byte) string {
	var buf bytes.Buffer
	buf.WriteString(receiptHashPrefix)
	buf.WriteByte(0)
	buf.Write(root)
	buf.WriteByte(0)
	for _, p := range subjectParts {
		buf.WriteString(p)
		buf.WriteByte(0)
	}
	buf.Write(signerPubkey)
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// MintArtifact produces a signed artifact receipt.
func (e *Engine) MintArtifact(artifactID, version string, root []byte, signer *crypto.Ed25519Signer, meta contracts.ReceiptMetadata) (*contracts.ArtifactReceipt, error) {
	msg := artifactMessage(artifactID, version, root)
	sig := signer.SignBytes(msg)
	pub := signer.PublicKeyBytes()

	return &contracts.ArtifactReceipt{
		ReceiptHash:  receiptHash(root, []string{artifactID, version}, pub),
		ArtifactID:   artifactID,
		Version:      version,
		Root:         append([]byte(nil), root...),
		SignerPubkey: append([]byte(nil), pub...),
		Signature:    sig,
		Timestamp:    time.Now().UTC(),
		Metadata:     meta,
	}, nil
}

// MintSession produces a signed session receipt.
func (e *Engine) MintSession(sessionID string, root []byte, signer *crypto.Ed25519Signer, meta contracts.ReceiptMetadata) (*contracts.SessionReceipt, error) {
	msg := sessionMessage(sessionID, root)
	sig := signer.SignBytes(msg)
	pub := signer.PublicKeyBytes()

	return &contracts.SessionReceipt{
		ReceiptHash:  receiptHash(root, []string{sessionID}, pub),
		SessionID:    sessionID,
		Root:         append([]byte(nil), root...),
		SignerPubkey: append([]byte(nil), pub...),
		Signature:    sig,
		Timestamp:    time.Now().UTC(),
		Metadata:     meta,
	}, nil
}

// VerifyArtifact reconstructs the canonical message, checks the signature,
// and independently recomputes the receipt hash. Either check failing makes
// the receipt invalid; invalid is an expected outcome, not a fault.
func (e *Engine) VerifyArtifact(r *contracts.ArtifactReceipt) bool {
	msg := artifactMessage(r.ArtifactID, r.Version, r.Root)
	if !crypto.VerifyBytes(r.SignerPubkey, r.Signature, msg) {
		return false
	}
	return r.ReceiptHash == receiptHash(r.Root, []string{r.ArtifactID, r.Version}, r.SignerPubkey)
}

// VerifySession is VerifyArtifact for session receipts.
func (e *Engine) VerifySession(r *contracts.SessionReceipt) bool {
	msg := sessionMessage(r.SessionID, r.Root)
	if !crypto.VerifyBytes(r.SignerPubkey, r.Signature, msg) {
		return false
	}
	return r.ReceiptHash == receiptHash(r.Root, []string{r.SessionID}, r.SignerPubkey)
}

// StoreArtifact persists a receipt with collision detection. A receipt hash
// already present is an expected content-addressing hit: identical content
// and identical signer necessarily produce the same hash. With
// allowDuplicate the insert becomes a no-op; otherwise the caller gets a
// receipt-collision error to classify. Metadata divergence between the two
// receipts is logged for audit either way.
func (e *Engine) StoreArtifact(ctx context.Context, r *contracts.ArtifactReceipt, allowDuplicate bool) error {
	existing, err := e.receipts.GetArtifactByHash(ctx, r.ReceiptHash)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return contracts.WrapVerifyError(contracts.KindStorageError, err, "receipt lookup")
	}

	if existing != nil {
		if existing.Metadata != r.Metadata {
			e.logger.Warn("receipt hash collision with divergent metadata",
				"receiptHash", r.ReceiptHash,
				"existing", existing.Metadata, "incoming", r.Metadata)
			e.record(ctx, "artifact", r.ArtifactID, false, string(contracts.KindReceiptCollision),
				"collision with divergent metadata")
		}
		if allowDuplicate {
			return nil
		}
		return contracts.NewVerifyError(contracts.KindReceiptCollision,
			"receipt %s already recorded", r.ReceiptHash)
	}

	if err := e.receipts.StoreArtifact(ctx, r); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Lost an insert race; same classification as the lookup path.
			if allowDuplicate {
				return nil
			}
			return contracts.NewVerifyError(contracts.KindReceiptCollision,
				"receipt %s already recorded", r.ReceiptHash)
		}
		return contracts.WrapVerifyError(contracts.KindStorageError, err, "receipt insert")
	}

	e.record(ctx, "artifact", r.ArtifactID, true, "", "receipt recorded")
	return nil
}

// StoreSession is StoreArtifact for session receipts.
func (e *Engine) StoreSession(ctx context.Context, r *contracts.SessionReceipt, allowDuplicate bool) error {
	existing, err := e.receipts.GetSessionByHash(ctx, r.ReceiptHash)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return contracts.WrapVerifyError(contracts.KindStorageError, err, "receipt lookup")
	}

	if existing != nil {
		if existing.Metadata != r.Metadata {
			e.logger.Warn("receipt hash collision with divergent metadata",
				"receiptHash", r.ReceiptHash,
				"existing", existing.Metadata, "incoming", r.Metadata)
			e.record(ctx, "session", r.SessionID, false, string(contracts.KindReceiptCollision),
				"collision with divergent metadata")
		}
		if allowDuplicate {
			return nil
		}
		return contracts.NewVerifyError(contracts.KindReceiptCollision,
			"receipt %s already recorded", r.ReceiptHash)
	}

	if err := e.receipts.StoreSession(ctx, r); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			if allowDuplicate {
				return nil
			}
			return contracts.NewVerifyError(contracts.KindReceiptCollision,
				"receipt %s already recorded", r.ReceiptHash)
		}
		return contracts.WrapVerifyError(contracts.KindStorageError, err, "receipt insert")
	}

	e.record(ctx, "session", r.SessionID, true, "", "receipt recorded")
	return nil
}

// record writes an audit event. Audit failures are logged and swallowed:
// they must never mask the verification or persistence result.
func (e *Engine) record(ctx context.Context, entityType, entityID string, success bool, errorCode, message string) {
	if e.auditor == nil {
		return
	}
	if err := e.auditor.Record(ctx, audit.EventReceipt, entityType, entityID, success, errorCode, message, nil); err != nil {
		e.logger.Error("audit record failed", "error", err)
	}
}
