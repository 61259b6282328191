// Package transfer implements streaming verified transfer of chunked
// artifacts. Given a verified, trusted manifest and a chunk-fetch capability,
// it fetches, verifies, and writes chunks one index at a time, persisting
// crash-safe resume progress after every verified chunk. Fetches may run
// ahead of the write cursor inside a bounded window; writes and resume
// advancement happen strictly in index order, so the contiguous
// "highest verified index" invariant always holds and resume is always safe.
package transfer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Mindburn-Labs/verity/pkg/commitment"
	"github.com/Mindburn-Labs/verity/pkg/contracts"
	"github.com/Mindburn-Labs/verity/pkg/crypto"
	"github.com/Mindburn-Labs/verity/pkg/fetch"
	"github.com/Mindburn-Labs/verity/pkg/store"
)

// State is the lifecycle state of one transfer.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateFetching     State = "FETCHING"
	StateVerifying    State = "VERIFYING"
	StateWriting      State = "WRITING"
	StateAdvancing    State = "ADVANCING"
	StateCompleted    State = "COMPLETED"
	StateFailed       State = "FAILED"
)

// DefaultWindow is the default number of chunk fetches allowed in flight
// ahead of the write cursor.
const DefaultWindow = 4

// Metrics receives transfer telemetry. All methods must be cheap and
// non-blocking; a nil Metrics disables reporting.
type Metrics interface {
	ChunkVerified(ctx context.Context, artifactType string)
	TransferFailed(ctx context.Context, artifactType, errorKind string)
	TransferCompleted(ctx context.Context, artifactType string, duration time.Duration)
	ActiveTransfers(ctx context.Context, delta int64)
}

// Option configures a Transfer.
type Option func(*Transfer)

// WithWindow bounds how many chunk fetches may be in flight ahead of the
// write cursor. Values < 1 force serial fetching.
func WithWindow(n int) Option {
	return func(t *Transfer) {
		if n < 1 {
			n = 1
		}
		t.window = n
	}
}

// WithLogger sets the logger for transfer progress. If not set, logging is
// disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transfer) {
		t.logger = logger
	}
}

// WithMetrics attaches transfer telemetry.
func WithMetrics(m Metrics) Option {
	return func(t *Transfer) {
		t.metrics = m
	}
}

// Transfer executes one streaming verified transfer. A Transfer is used for
// a single Run; the engine assumes one logical transfer per artifact id at a
// time.
type Transfer struct {
	manifest *contracts.ArtifactManifest
	fetcher  fetch.Fetcher
	dest     io.WriterAt
	resume   *store.FileResumeStore
	hasher   crypto.Hasher
	strategy commitment.Strategy

	chunkHashes []string // hex, from the manifest
	window      int
	logger      *slog.Logger
	metrics     Metrics

	state atomic.Value // State
}

// New validates the manifest's commitment strategy up front — an unknown
// strategy is rejected before any bytes move — and prepares a transfer.
func New(m *contracts.ArtifactManifest, fetcher fetch.Fetcher, dest io.WriterAt, resume *store.FileResumeStore, opts ...Option) (*Transfer, error) {
	strat, err := commitment.ForID(m.Commitment.Strategy)
	if err != nil {
		return nil, err
	}

	t := &Transfer{
		manifest:    m,
		fetcher:     fetcher,
		dest:        dest,
		resume:      resume,
		hasher:      crypto.SHA256Hasher{},
		strategy:    strat,
		chunkHashes: m.Commitment.ChunkHashes,
		window:      DefaultWindow,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}
	t.logger = t.logger.With("artifact", m.ArtifactID, "version", m.ArtifactVersion)
	t.state.Store(StateInitializing)
	return t, nil
}

// State returns the current lifecycle state.
func (t *Transfer) State() State {
	return t.state.Load().(State)
}

func (t *Transfer) setState(s State) {
	t.state.Store(s)
}

// fetched is one completed chunk fetch waiting in the reorder buffer.
type fetched struct {
	index int
	data  []byte
	hash  []byte
}

// Run executes the transfer to completion or first failure. A chunk-hash or
// root mismatch aborts the whole transfer but leaves resume state intact up
// to the last good chunk; corrupt or stale resume state is discarded and the
// transfer restarts from zero. On success the resume state is deleted.
func (t *Transfer) Run(ctx context.Context) error {
	start := time.Now()
	if t.metrics != nil {
		t.metrics.ActiveTransfers(ctx, 1)
		defer t.metrics.ActiveTransfers(ctx, -1)
	}

	err := t.run(ctx)
	if err != nil {
		t.setState(StateFailed)
		if t.metrics != nil {
			t.metrics.TransferFailed(ctx, string(t.manifest.ArtifactType), string(contracts.KindOf(err)))
		}
		return err
	}

	t.setState(StateCompleted)
	if t.metrics != nil {
		t.metrics.TransferCompleted(ctx, string(t.manifest.ArtifactType), time.Since(start))
	}
	return nil
}

func (t *Transfer) run(ctx context.Context) error {
	t.setState(StateInitializing)

	state, err := t.loadResume()
	if err != nil {
		return err
	}

	total := len(t.chunkHashes)
	if total == 0 {
		return t.completeEmpty()
	}

	// Observed chunk hashes for the final root recompute. Chunks verified in
	// a previous run matched the manifest at that time, so their manifest
	// hashes stand in as observed values.
	observed := make([][]byte, total)
	var pending []int
	for i := 0; i < total; i++ {
		if state.IsVerified(i) {
			h, err := hex.DecodeString(t.chunkHashes[i])
			if err != nil {
				return contracts.NewVerifyError(contracts.KindRootMismatch,
					"manifest chunk hash %d is not valid hex", i)
			}
			observed[i] = h
			continue
		}
		pending = append(pending, i)
	}

	if len(pending) > 0 {
		t.logger.Info("transfer starting",
			"chunks", total, "pending", len(pending), "resumedFrom", state.LastVerifiedChunk)
		if err := t.pipeline(ctx, state, pending, observed); err != nil {
			return err
		}
	}

	// Independent root recompute over the observed hashes. This guards
	// against a manifest whose declared root does not match its own declared
	// chunk list, even when every individual chunk matched.
	t.setState(StateAdvancing)
	root := hex.EncodeToString(t.strategy.Root(observed))
	if root != t.manifest.Commitment.Root {
		return contracts.NewVerifyError(contracts.KindRootMismatch,
			"recomputed root %s does not match declared root %s", root, t.manifest.Commitment.Root)
	}

	if err := t.resume.Delete(t.manifest.ArtifactID); err != nil {
		return contracts.WrapVerifyError(contracts.KindStorageError, err, "clearing resume state")
	}
	t.logger.Info("transfer completed", "chunks", total)
	return nil
}

// loadResume returns the resume state to continue from: a fresh one when no
// valid prior state applies. Corrupt state is the one failure the engine
// recovers from silently, by restarting; stale state (different artifact or
// root) is discarded, never partially honored.
func (t *Transfer) loadResume() (*contracts.ResumeState, error) {
	state, err := t.resume.Load(t.manifest.ArtifactID)
	if err != nil {
		if errors.Is(err, store.ErrResumeCorrupt) {
			t.logger.Warn("resume state corrupt, restarting from zero")
			return t.freshResume(), nil
		}
		return nil, contracts.WrapVerifyError(contracts.KindStorageError, err, "loading resume state")
	}
	if state == nil {
		return t.freshResume(), nil
	}
	if !state.Matches(t.manifest.ArtifactID, t.manifest.Commitment.Root) {
		t.logger.Warn("resume state is for a different artifact or root, restarting from zero")
		if err := t.resume.Delete(t.manifest.ArtifactID); err != nil {
			return nil, contracts.WrapVerifyError(contracts.KindStorageError, err, "clearing stale resume state")
		}
		return t.freshResume(), nil
	}
	return state, nil
}

func (t *Transfer) freshResume() *contracts.ResumeState {
	return &contracts.ResumeState{
		ArtifactID:        t.manifest.ArtifactID,
		ExpectedRoot:      t.manifest.Commitment.Root,
		ChunkHashes:       t.chunkHashes,
		LastVerifiedChunk: -1,
		Timestamp:         time.Now().UTC(),
	}
}

func (t *Transfer) completeEmpty() error {
	empty := hex.EncodeToString(commitment.EmptyRoot())
	if t.manifest.Commitment.Root != empty {
		return contracts.NewVerifyError(contracts.KindRootMismatch,
			"zero-chunk artifact must commit to the reserved empty root")
	}
	if err := t.resume.Delete(t.manifest.ArtifactID); err != nil {
		return contracts.WrapVerifyError(contracts.KindStorageError, err, "clearing resume state")
	}
	return nil
}

// pipeline runs the bounded fetch window. Fetch workers complete in any
// order into a reorder buffer keyed by chunk index; the drain loop consumes
// strictly in index order, verifying, writing, and persisting resume
// progress before advancing. A semaphore token is held from fetch start
// until the chunk is drained, so at most window chunks are buffered or in
// flight at once.
func (t *Transfer) pipeline(ctx context.Context, state *contracts.ResumeState, pending []int, observed [][]byte) error {
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(t.window))
	results := make(chan fetched, t.window)

	workers, wctx := errgroup.WithContext(gctx)
	g.Go(func() error {
		defer close(results)
		for _, index := range pending {
			index := index
			if err := sem.Acquire(wctx, 1); err != nil {
				break
			}
			workers.Go(func() error {
				t.setState(StateFetching)
				data, err := t.fetcher.Fetch(wctx, index)
				if err != nil {
					sem.Release(1)
					// Fetch-layer errors are not a trust decision; they
					// surface as plain failures without touching resume
					// state.
					return fmt.Errorf("chunk fetch failed at index %d: %w", index, err)
				}
				t.setState(StateVerifying)
				hash := t.hasher.Sum(data)
				select {
				case results <- fetched{index: index, data: data, hash: hash}:
				case <-wctx.Done():
					sem.Release(1)
					return wctx.Err()
				}
				return nil
			})
		}
		return workers.Wait()
	})

	g.Go(func() error {
		buffer := make(map[int]fetched, t.window)
		cursor := 0 // position in pending

		for cursor < len(pending) {
			want := pending[cursor]
			f, ok := buffer[want]
			if !ok {
				r, open := <-results
				if !open {
					return fmt.Errorf("fetch pipeline closed with %d chunks outstanding", len(pending)-cursor)
				}
				buffer[r.index] = r
				continue
			}
			delete(buffer, want)

			if err := t.commitChunk(state, f, observed); err != nil {
				sem.Release(1)
				return err
			}
			sem.Release(1)
			cursor++
			if t.metrics != nil {
				t.metrics.ChunkVerified(gctx, string(t.manifest.ArtifactType))
			}
		}

		// Drain any stragglers so fetch workers sending on results never
		// block after the last pending chunk is committed.
		for range results {
			sem.Release(1)
		}
		return nil
	})

	return g.Wait()
}

// commitChunk verifies one fetched chunk against the manifest, writes it at
// its byte offset, and persists resume progress. Progress is persisted only
// after the bytes are written: a crash between write and persist at worst
// repeats one chunk, never loses one.
func (t *Transfer) commitChunk(state *contracts.ResumeState, f fetched, observed [][]byte) error {
	expected := t.chunkHashes[f.index]
	got := hex.EncodeToString(f.hash)
	if got != expected {
		return contracts.NewVerifyError(contracts.KindChunkHashMismatch,
			"chunk %d hash %s does not match manifest hash %s", f.index, got, expected)
	}

	t.setState(StateWriting)
	offset := int64(f.index) * int64(t.manifest.Metadata.ChunkSize)
	if _, err := t.dest.WriteAt(f.data, offset); err != nil {
		return contracts.WrapVerifyError(contracts.KindStorageError, err,
			"chunk write failed at index %d", f.index)
	}

	t.setState(StateAdvancing)
	state.MarkVerified(f.index)
	if err := t.resume.Save(state); err != nil {
		return contracts.WrapVerifyError(contracts.KindStorageError, err,
			"persisting resume state after chunk %d", f.index)
	}

	observed[f.index] = f.hash
	t.logger.Debug("chunk verified", "index", f.index, "contiguous", state.LastVerifiedChunk)
	return nil
}
