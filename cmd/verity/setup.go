package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/Mindburn-Labs/verity/pkg/audit"
	"github.com/Mindburn-Labs/verity/pkg/config"
	"github.com/Mindburn-Labs/verity/pkg/contracts"
	"github.com/Mindburn-Labs/verity/pkg/crypto"
	"github.com/Mindburn-Labs/verity/pkg/observability"
	"github.com/Mindburn-Labs/verity/pkg/receipts"
	"github.com/Mindburn-Labs/verity/pkg/store"
	"github.com/Mindburn-Labs/verity/pkg/trust"
	"github.com/Mindburn-Labs/verity/pkg/verifier"
)

// runtime bundles everything a subcommand needs, wired once per invocation.
type runtime struct {
	cfg      *config.Config
	db       *sql.DB
	keys     store.KeyStore
	receipts store.ReceiptStore
	vlog     store.VerificationLog
	trust    *trust.Engine
	rengine  *receipts.Engine
	verifier *verifier.Verifier
	resume   *store.FileResumeStore
	signer   *crypto.Ed25519Signer
	obs      *observability.Provider
	logger   *slog.Logger
}

func newRuntime(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))

	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to ensure state dir: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger}
	if err := rt.openStores(cfg); err != nil {
		return nil, err
	}

	rt.resume, err = store.NewFileResumeStore(filepath.Join(cfg.StateDir, "resume"))
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.signer, err = loadOrCreateIdentity(filepath.Join(cfg.StateDir, "identity.key"))
	if err != nil {
		rt.Close()
		return nil, err
	}

	tc := contracts.NewTrustConfig(cfg.Mode())
	tc.ExpiryWarningLead = cfg.ExpiryWarningLead()
	rt.trust = trust.NewEngine(tc, rt.keys, logger)
	if err := rt.trust.Hydrate(ctx); err != nil {
		rt.Close()
		return nil, err
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.OTLPEndpoint != ""
	if obsCfg.Enabled {
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	rt.obs, err = observability.New(ctx, obsCfg)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
		rt.obs = nil
	}

	auditor := audit.Multi{audit.NewStoreLogger(rt.vlog), audit.NewLoggerWithWriter(os.Stderr)}
	rt.rengine = receipts.NewEngine(rt.receipts, auditor, logger)
	vopts := []verifier.Option{
		verifier.WithWindow(cfg.TransferWindow),
		verifier.WithLogger(logger),
	}
	if rt.obs != nil {
		vopts = append(vopts, verifier.WithMetrics(rt.obs))
	}
	rt.verifier = verifier.New(rt.trust, rt.rengine, rt.resume, rt.signer, auditor, vopts...)
	return rt, nil
}

func (rt *runtime) openStores(cfg *config.Config) error {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.DatabaseDriver {
	case "postgres":
		db, err = sql.Open("postgres", cfg.DatabaseURL)
	default:
		db, err = sql.Open("sqlite", filepath.Join(cfg.StateDir, "verity.db"))
	}
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	rt.db = db

	if cfg.DatabaseDriver == "postgres" {
		rt.receipts, err = store.NewPostgresReceiptStore(db)
		if err != nil {
			return err
		}
		rt.keys, err = store.NewPostgresKeyStore(db)
		if err != nil {
			return err
		}
	} else {
		rt.receipts, err = store.NewSQLiteReceiptStore(db)
		if err != nil {
			return err
		}
		rt.keys, err = store.NewSQLiteKeyStore(db)
		if err != nil {
			return err
		}
	}

	// The verification log stays local even when receipts live in Postgres.
	rt.vlog, err = store.NewSQLiteVerificationLog(rt.sqliteHandle(cfg))
	return err
}

// sqliteHandle returns the sqlite DB, opening a dedicated one when the
// primary store is Postgres.
func (rt *runtime) sqliteHandle(cfg *config.Config) *sql.DB {
	if cfg.DatabaseDriver != "postgres" {
		return rt.db
	}
	db, err := sql.Open("sqlite", filepath.Join(cfg.StateDir, "verity.db"))
	if err != nil {
		return rt.db
	}
	return db
}

func (rt *runtime) Close() {
	if rt.obs != nil {
		_ = rt.obs.Shutdown(context.Background())
	}
	if rt.db != nil {
		_ = rt.db.Close()
	}
}

// loadOrCreateIdentity loads the local receipt-signing key, generating one on
// first run. Only the 32-byte seed is stored, hex-encoded, mode 0600.
func loadOrCreateIdentity(path string) (*crypto.Ed25519Signer, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("identity key file %s is malformed", path)
		}
		return crypto.NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(seed), "local"), nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read identity key: %w", err)
	}

	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate identity key: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)), 0o600); err != nil {
		return nil, fmt.Errorf("failed to persist identity key: %w", err)
	}
	return crypto.NewEd25519SignerFromKey(ed25519.NewKeyFromSeed(seed), "local"), nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
