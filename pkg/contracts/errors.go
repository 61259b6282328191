package contracts

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a verification failure. Cryptographic and policy
// failures are never retried automatically: they represent a trust decision
// and must surface to the caller. Corrupt resume state is the one kind the
// engine recovers from locally, by discarding the state and restarting.
type ErrorKind string

// Error kinds.
const (
	KindManifestSignatureInvalid ErrorKind = "manifest-signature-invalid"
	KindUntrustedSigner          ErrorKind = "untrusted-signer"
	KindKeyExpired               ErrorKind = "key-expired"
	KindKeyRevoked               ErrorKind = "key-revoked"
	KindChunkHashMismatch        ErrorKind = "chunk-hash-mismatch"
	KindRootMismatch             ErrorKind = "root-mismatch"
	KindResumeStateCorrupt       ErrorKind = "resume-state-corrupt"
	KindReceiptSignatureInvalid  ErrorKind = "receipt-signature-invalid"
	KindReceiptCollision         ErrorKind = "receipt-collision"
	KindStorageError             ErrorKind = "storage-error"
)

// VerifyError is a classified verification failure. It supports errors.Is
// against the kind sentinels below, so callers can branch on the kind without
// string matching.
type VerifyError struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *VerifyError) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VerifyError) Unwrap() error { return e.Err }

// Is matches any *VerifyError with the same kind, so
// errors.Is(err, contracts.ErrChunkHashMismatch) works regardless of detail.
func (e *VerifyError) Is(target error) bool {
	var t *VerifyError
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// NewVerifyError builds a classified error with a formatted detail message.
func NewVerifyError(kind ErrorKind, format string, args ...any) *VerifyError {
	return &VerifyError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapVerifyError classifies an underlying error.
func WrapVerifyError(kind ErrorKind, err error, format string, args ...any) *VerifyError {
	return &VerifyError{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// Kind sentinels for errors.Is matching.
var (
	ErrManifestSignatureInvalid = &VerifyError{Kind: KindManifestSignatureInvalid}
	ErrUntrustedSigner          = &VerifyError{Kind: KindUntrustedSigner}
	ErrKeyExpired               = &VerifyError{Kind: KindKeyExpired}
	ErrKeyRevoked               = &VerifyError{Kind: KindKeyRevoked}
	ErrChunkHashMismatch        = &VerifyError{Kind: KindChunkHashMismatch}
	ErrRootMismatch             = &VerifyError{Kind: KindRootMismatch}
	ErrResumeStateCorrupt       = &VerifyError{Kind: KindResumeStateCorrupt}
	ErrReceiptSignatureInvalid  = &VerifyError{Kind: KindReceiptSignatureInvalid}
	ErrReceiptCollision         = &VerifyError{Kind: KindReceiptCollision}
	ErrStorageError             = &VerifyError{Kind: KindStorageError}
)

// KindOf extracts the kind from a classified error, or "" if the error is not
// a VerifyError.
func KindOf(err error) ErrorKind {
	var v *VerifyError
	if errors.As(err, &v) {
		return v.Kind
	}
	return ""
}
