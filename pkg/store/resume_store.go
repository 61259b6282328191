package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/verity/pkg/contracts"
)

// ErrResumeCorrupt is returned when a resume file exists but fails its
// self-checksum. The caller discards the state and restarts from zero; this
// is recovery, not a fatal fault.
var ErrResumeCorrupt = errors.New("resume state failed checksum validation")

// FileResumeStore persists ResumeState as JSON files under a state
// directory, one file per artifact. Writes are atomic (temp file + rename)
// so a crash mid-write leaves either the old state or the new state, never a
// torn file.
type FileResumeStore struct {
	dir string
}

// NewFileResumeStore creates the state directory if needed.
func NewFileResumeStore(dir string) (*FileResumeStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to ensure resume state dir: %w", err)
	}
	return &FileResumeStore{dir: dir}, nil
}

func (s *FileResumeStore) path(artifactID string) string {
	// Artifact ids are caller-supplied; hash them so they can never escape
	// the state directory or collide on case-insensitive filesystems.
	sum := sha256.Sum256([]byte(artifactID))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:16])+".resume.json")
}

// Load reads the resume state for an artifact. Returns (nil, nil) when no
// state exists, and ErrResumeCorrupt when a state exists but fails its
// checksum; the corrupt file is removed so the next load starts clean.
func (s *FileResumeStore) Load(artifactID string) (*contracts.ResumeState, error) {
	raw, err := os.ReadFile(s.path(artifactID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read resume state: %w", err)
	}

	var state contracts.ResumeState
	if err := json.Unmarshal(raw, &state); err != nil {
		_ = os.Remove(s.path(artifactID))
		return nil, fmt.Errorf("%w: %v", ErrResumeCorrupt, err)
	}
	if !state.Verify() {
		_ = os.Remove(s.path(artifactID))
		return nil, ErrResumeCorrupt
	}
	return &state, nil
}

// Save seals and persists the state atomically. The temp file is synced
// before rename so the progress record is durable before it becomes visible.
func (s *FileResumeStore) Save(state *contracts.ResumeState) error {
	state.Seal()

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode resume state: %w", err)
	}

	target := s.path(state.ArtifactID)
	tmp, err := os.CreateTemp(s.dir, ".resume-*")
	if err != nil {
		return fmt.Errorf("failed to create resume temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write resume state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync resume state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close resume temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to publish resume state: %w", err)
	}
	return nil
}

// Delete removes the resume state after a completed transfer. Missing files
// are not an error.
func (s *FileResumeStore) Delete(artifactID string) error {
	if err := os.Remove(s.path(artifactID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete resume state: %w", err)
	}
	return nil
}
