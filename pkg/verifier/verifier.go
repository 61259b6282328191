// Package verifier drives end-to-end artifact verification: manifest schema
// and signature checks, signer trust evaluation, streaming verified transfer,
// and receipt minting. Every attempt is audit-logged, success or failure.
//
// Trust model: the verifier trusts only the cryptographic primitives
// (Ed25519, SHA-256, JCS) and the durable key store. It does NOT trust the
// manifest, the chunk source, or any prior resume state.
package verifier

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/verity/pkg/audit"
	"github.com/Mindburn-Labs/verity/pkg/contracts"
	"github.com/Mindburn-Labs/verity/pkg/crypto"
	"github.com/Mindburn-Labs/verity/pkg/fetch"
	"github.com/Mindburn-Labs/verity/pkg/manifest"
	"github.com/Mindburn-Labs/verity/pkg/receipts"
	"github.com/Mindburn-Labs/verity/pkg/store"
	"github.com/Mindburn-Labs/verity/pkg/transfer"
	"github.com/Mindburn-Labs/verity/pkg/trust"
)

// Report is the structured output of one verification run. Designed for
// auditor consumption: every check that ran appears, in order, with its
// outcome.
type Report struct {
	ArtifactID  string        `json:"artifactId"`
	Version     string        `json:"version"`
	Verified    bool          `json:"verified"`
	Timestamp   time.Time     `json:"timestamp"`
	Checks      []CheckResult `json:"checks"`
	Warnings    []string      `json:"warnings,omitempty"`
	ReceiptHash string        `json:"receiptHash,omitempty"`
	Summary     string        `json:"summary"`
}

// CheckResult represents a single verification check.
type CheckResult struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Detail string `json:"detail,omitempty"`
	Reason string `json:"reason,omitempty"` // failure reason
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithWindow sets the transfer fetch window.
func WithWindow(n int) Option {
	return func(v *Verifier) { v.window = n }
}

// WithMetrics attaches transfer telemetry.
func WithMetrics(m transfer.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// WithLogger sets the verifier's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) { v.logger = logger }
}

// Verifier wires the verification pipeline together. One Verifier serves many
// runs; each run is independent.
type Verifier struct {
	trust    *trust.Engine
	receipts *receipts.Engine
	resume   *store.FileResumeStore
	signer   *crypto.Ed25519Signer
	auditor  audit.Logger
	logger   *slog.Logger
	window   int
	metrics  transfer.Metrics
}

// New creates a verifier. signer is the local identity receipts are minted
// under. The audit logger may be nil.
func New(tr *trust.Engine, re *receipts.Engine, resume *store.FileResumeStore, signer *crypto.Ed25519Signer, auditor audit.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		trust:    tr,
		receipts: re,
		resume:   resume,
		signer:   signer,
		auditor:  auditor,
		window:   transfer.DefaultWindow,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = slog.New(slog.DiscardHandler)
	}
	v.logger = v.logger.With("component", "verifier")
	return v
}

// VerifyArtifact runs the full pipeline over a raw manifest document and a
// chunk source, writing verified content to dest. The returned report is
// never nil; on failure it records how far verification got, and the error
// carries the taxonomy kind of the first failed stage.
func (v *Verifier) VerifyArtifact(ctx context.Context, rawManifest []byte, fetcher fetch.Fetcher, dest io.WriterAt) (*Report, error) {
	report := &Report{Timestamp: time.Now().UTC()}

	m, err := manifest.Parse(rawManifest)
	if err != nil {
		report.fail("manifest_schema", err.Error())
		v.record(ctx, report, "artifact", "", string(contracts.KindManifestSignatureInvalid), "manifest rejected")
		return report, fmt.Errorf("manifest rejected: %w", err)
	}
	report.ArtifactID = m.ArtifactID
	report.Version = m.ArtifactVersion
	report.pass("manifest_schema", "manifest well-formed")

	ok, err := manifest.VerifySignature(m)
	if err != nil {
		report.fail("manifest_signature", err.Error())
		v.record(ctx, report, "artifact", m.ArtifactID, string(contracts.KindManifestSignatureInvalid), "signature check faulted")
		return report, fmt.Errorf("manifest signature check faulted: %w", err)
	}
	if !ok {
		report.fail("manifest_signature", "detached signature does not verify against publisher pubkey")
		v.record(ctx, report, "artifact", m.ArtifactID, string(contracts.KindManifestSignatureInvalid), "invalid manifest signature")
		return report, contracts.NewVerifyError(contracts.KindManifestSignatureInvalid,
			"manifest signature for %s does not verify", m.ArtifactID)
	}
	report.pass("manifest_signature", "detached signature verified")

	decision, err := v.trust.Authorize(ctx, m.Publisher.Pubkey)
	if err != nil {
		reason := err.Error()
		if decision.Reason != "" {
			reason = decision.Reason
		}
		report.fail("signer_trust", reason)
		v.record(ctx, report, "artifact", m.ArtifactID, string(contracts.KindOf(err)), "signer rejected")
		return report, err
	}
	report.pass("signer_trust", decision.Reason)
	if decision.Warning != "" {
		report.Warnings = append(report.Warnings, decision.Warning)
	}

	t, err := transfer.New(m, fetcher, dest, v.resume,
		transfer.WithWindow(v.window),
		transfer.WithLogger(v.logger),
		transfer.WithMetrics(v.metrics),
	)
	if err != nil {
		report.fail("content_transfer", err.Error())
		v.record(ctx, report, "artifact", m.ArtifactID, string(contracts.KindOf(err)), "transfer setup failed")
		return report, err
	}
	if err := t.Run(ctx); err != nil {
		report.fail("content_transfer", err.Error())
		v.record(ctx, report, "artifact", m.ArtifactID, string(contracts.KindOf(err)), "transfer failed")
		return report, err
	}
	report.pass("content_transfer", fmt.Sprintf("%d chunks verified against root", m.Metadata.ChunkCount))

	root, err := hex.DecodeString(m.Commitment.Root)
	if err != nil {
		report.fail("receipt", "declared root is not valid hex")
		v.record(ctx, report, "artifact", m.ArtifactID, string(contracts.KindRootMismatch), "bad root encoding")
		return report, fmt.Errorf("declared root is not valid hex: %w", err)
	}
	receipt, err := v.receipts.MintArtifact(m.ArtifactID, m.ArtifactVersion, root, v.signer, contracts.ReceiptMetadata{
		ArtifactType: m.ArtifactType,
		Size:         m.Metadata.Size,
		ChunkCount:   m.Metadata.ChunkCount,
		Strategy:     m.Commitment.Strategy,
	})
	if err != nil {
		report.fail("receipt", err.Error())
		v.record(ctx, report, "artifact", m.ArtifactID, string(contracts.KindOf(err)), "receipt mint failed")
		return report, err
	}
	// Re-verification of identical content under the same identity is a
	// legitimate content-addressing hit, so duplicates are allowed here.
	if err := v.receipts.StoreArtifact(ctx, receipt, true); err != nil {
		report.fail("receipt", err.Error())
		v.record(ctx, report, "artifact", m.ArtifactID, string(contracts.KindOf(err)), "receipt store failed")
		return report, err
	}
	report.ReceiptHash = receipt.ReceiptHash
	report.pass("receipt", "receipt "+receipt.ReceiptHash)

	report.finish()
	v.record(ctx, report, "artifact", m.ArtifactID, "", "artifact verified")
	return report, nil
}

// VerifySessionExport verifies an exported session bundle against its
// declared root and mints a session receipt under a signing key derived from
// the seed, so the same session identity re-derives across devices.
func (v *Verifier) VerifySessionExport(ctx context.Context, sessionID string, data []byte, declaredRoot string, seed []byte) (*Report, error) {
	report := &Report{ArtifactID: sessionID, Timestamp: time.Now().UTC()}

	commit, err := manifest.CommitBytes(data, contracts.ArtifactMemoryExport)
	if err != nil {
		report.fail("session_commitment", err.Error())
		v.record(ctx, report, "session", sessionID, string(contracts.KindRootMismatch), "session commitment failed")
		return report, err
	}
	if commit.Root != declaredRoot {
		report.fail("session_commitment", "recomputed root does not match declared root")
		v.record(ctx, report, "session", sessionID, string(contracts.KindRootMismatch), "session root mismatch")
		return report, contracts.NewVerifyError(contracts.KindRootMismatch,
			"session %s root %s does not match declared %s", sessionID, commit.Root, declaredRoot)
	}
	report.pass("session_commitment", "session content matches declared root")

	sessionSigner, err := crypto.DeriveSigner(seed, "verity:session:"+sessionID)
	if err != nil {
		report.fail("session_key", err.Error())
		v.record(ctx, report, "session", sessionID, string(contracts.KindStorageError), "session key derivation failed")
		return report, err
	}
	report.pass("session_key", "session signing key derived")

	root, err := hex.DecodeString(commit.Root)
	if err != nil {
		report.fail("receipt", "root is not valid hex")
		return report, fmt.Errorf("session root is not valid hex: %w", err)
	}
	receipt, err := v.receipts.MintSession(sessionID, root, sessionSigner, contracts.ReceiptMetadata{
		ArtifactType: contracts.ArtifactMemoryExport,
		Size:         int64(len(data)),
		ChunkCount:   commit.ChunkCount,
		Strategy:     commit.Strategy,
	})
	if err != nil {
		report.fail("receipt", err.Error())
		v.record(ctx, report, "session", sessionID, string(contracts.KindOf(err)), "session receipt mint failed")
		return report, err
	}
	if err := v.receipts.StoreSession(ctx, receipt, true); err != nil {
		report.fail("receipt", err.Error())
		v.record(ctx, report, "session", sessionID, string(contracts.KindOf(err)), "session receipt store failed")
		return report, err
	}
	report.ReceiptHash = receipt.ReceiptHash
	report.pass("receipt", "receipt "+receipt.ReceiptHash)

	report.finish()
	v.record(ctx, report, "session", sessionID, "", "session verified")
	return report, nil
}

func (r *Report) pass(name, detail string) {
	r.Checks = append(r.Checks, CheckResult{Name: name, Pass: true, Detail: detail})
}

func (r *Report) fail(name, reason string) {
	r.Checks = append(r.Checks, CheckResult{Name: name, Pass: false, Reason: reason})
	r.Summary = fmt.Sprintf("FAIL: %s", name)
}

func (r *Report) finish() {
	r.Verified = true
	r.Summary = fmt.Sprintf("PASS: %d/%d checks passed", len(r.Checks), len(r.Checks))
}

// record audit-logs the attempt. Audit failures are logged, never surfaced:
// the verification result stands on its own.
func (v *Verifier) record(ctx context.Context, report *Report, entityType, entityID, errorCode, message string) {
	if v.auditor == nil {
		return
	}
	if err := v.auditor.Record(ctx, audit.EventVerification, entityType, entityID, report.Verified, errorCode, message, nil); err != nil {
		v.logger.Error("audit record failed", "error", err)
	}
}
