// Package mint implements the quote orchestrator (C5): the mint/melt
// quote state machines that bind external on-chain events to token
// issuance and redemption, built on top of crypto (C1-C3), ledger
// (C4), and token (wire encoding).
package mint

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"

	cryptopkg "github.com/rnambaale/monexo-ecash/crypto"
	"github.com/rnambaale/monexo-ecash/mint/chain"
	"github.com/rnambaale/monexo-ecash/mint/payout"
	"github.com/rnambaale/monexo-ecash/mint/storage"
)

// Mint is the quote orchestrator: it owns the keyset manager, the
// persistent store, and the external collaborators, and serializes
// state transitions per the design's concurrency model.
type Mint struct {
	db       storage.Store
	keysets  *cryptopkg.Manager
	unit     string
	maxOrder int
	limits   MintLimits

	payoutExecutor payout.Executor

	// issueLocks serializes Issue calls per mint quote id: at most one
	// in-flight signing pass per quote, so a second concurrent request
	// blocks until the first completes and then takes the replay path
	// instead of racing it to SaveBlindSignatures/UpdateMintQuoteState.
	issueLocks *keyedMutex

	logger *slog.Logger
}

var _ chain.DepositNotifier = (*Mint)(nil)

// LoadMint wires a Mint from persisted state (or bootstraps fresh
// state on first run): it restores keysets from the store, generates
// a master seed if none exists yet, and ensures exactly one active
// keyset for the configured unit.
func LoadMint(config Config, db storage.Store, executor payout.Executor) (*Mint, error) {
	path := config.MintPath
	if len(path) == 0 {
		path = defaultMintPath()
	}

	logger, err := setupLogger(path, config.LogLevel)
	if err != nil {
		return nil, err
	}

	seed, err := db.GetSeed()
	if err != nil {
		seed, err = hdkeychain.GenerateSeed(32)
		if err != nil {
			return nil, fmt.Errorf("generating master seed: %w", err)
		}
		if err := db.SaveSeed(seed); err != nil {
			return nil, fmt.Errorf("saving master seed: %w", err)
		}
	}

	master, err := cryptopkg.MasterFromSeed(seed)
	if err != nil {
		return nil, err
	}

	m := &Mint{
		db:             db,
		keysets:        cryptopkg.NewManager(master),
		unit:           config.Unit,
		maxOrder:       config.MaxOrder,
		limits:         config.Limits,
		payoutExecutor: executor,
		issueLocks:     newKeyedMutex(),
		logger:         logger,
	}

	if err := m.restoreOrBootstrapKeysets(config); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Mint) restoreOrBootstrapKeysets(config Config) error {
	dbKeysets, err := m.db.GetKeysets()
	if err != nil {
		return fmt.Errorf("reading keysets from store: %w", err)
	}

	haveActiveForUnit := false
	for _, dbks := range dbKeysets {
		ks, err := cryptopkg.GenerateKeyset(m.keysets.Master(), dbks.Unit, dbks.DerivationPathIdx, dbks.MaxOrder, dbks.InputFeePpk)
		if err != nil {
			return fmt.Errorf("regenerating keyset %s: %w", dbks.Id, err)
		}
		m.keysets.Load(ks, dbks.Active)
		if dbks.Unit == config.Unit && dbks.Active {
			haveActiveForUnit = true
		}
	}

	if !haveActiveForUnit {
		ks, err := m.keysets.Rotate(config.Unit, config.MaxOrder, config.InputFeePpk)
		if err != nil {
			return fmt.Errorf("bootstrapping active keyset for %s: %w", config.Unit, err)
		}
		m.logInfof("bootstrapped active keyset %s for unit %s", ks.Id, ks.Unit)
		if err := m.db.SaveKeyset(storage.DBKeyset{
			Id: ks.Id, Unit: ks.Unit, Active: true,
			DerivationPathIdx: ks.DerivationPathIdx, MaxOrder: ks.MaxOrder, InputFeePpk: ks.InputFeePpk,
		}); err != nil {
			return fmt.Errorf("persisting bootstrapped keyset: %w", err)
		}
	}

	return nil
}

// GetKeyset returns the keyset with the given id, active or retired.
func (m *Mint) GetKeyset(id string) (*cryptopkg.Keyset, error) {
	ks, err := m.keysets.GetKeyset(id)
	if err != nil {
		return nil, buildError(ErrUnknownKeysetId.Detail, ErrUnknownKeysetId.Code)
	}
	return ks, nil
}

// ActiveFor returns the single active keyset for unit.
func (m *Mint) ActiveFor(unit string) (*cryptopkg.Keyset, error) {
	ks, err := m.keysets.ActiveFor(unit)
	if err != nil {
		return nil, buildError(ErrNoActiveKeysetForUnit.Detail, ErrNoActiveKeysetForUnit.Code)
	}
	return ks, nil
}

// Rotate deactivates the current active keyset for unit and activates
// a freshly derived one, persisting both the new keyset and the
// deactivation of the old one.
func (m *Mint) Rotate(unit string) (*cryptopkg.Keyset, error) {
	ks, err := m.keysets.Rotate(unit, m.maxOrder, 0)
	if err != nil {
		return nil, err
	}

	if err := m.db.SaveKeyset(storage.DBKeyset{
		Id: ks.Id, Unit: ks.Unit, Active: true,
		DerivationPathIdx: ks.DerivationPathIdx, MaxOrder: ks.MaxOrder, InputFeePpk: ks.InputFeePpk,
	}); err != nil {
		return nil, err
	}
	for _, other := range m.keysets.All() {
		if other.Id != ks.Id && other.Unit == unit && !other.Active {
			_ = m.db.UpdateKeysetActive(other.Id, false)
		}
	}

	m.logInfof("rotated unit %s to keyset %s", unit, ks.Id)
	return ks, nil
}

// AllKeysets returns every keyset known to the mint, for the admin
// surface's keyset listing.
func (m *Mint) AllKeysets() []*cryptopkg.Keyset {
	return m.keysets.All()
}

// IssuedEcash returns, per keyset id, the total amount ever issued.
func (m *Mint) IssuedEcash() (map[string]uint64, error) {
	return m.db.GetIssuedEcash()
}

// RedeemedEcash returns, per keyset id, the total amount ever
// redeemed back through Melt.
func (m *Mint) RedeemedEcash() (map[string]uint64, error) {
	return m.db.GetRedeemedEcash()
}

func defaultMintPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}
	path := filepath.Join(homedir, ".monexo", "mint")
	if err := os.MkdirAll(path, 0700); err != nil {
		log.Fatal(err)
	}
	return path
}

func setupLogger(mintPath string, level LogLevel) (*slog.Logger, error) {
	replacer := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			if source, ok := a.Value.Any().(*slog.Source); ok {
				source.File = filepath.Base(source.File)
			}
		}
		if a.Key == slog.TimeKey {
			a.Value = slog.StringValue(time.Now().Truncate(2 * time.Second).Format(time.DateTime))
		}
		return a
	}

	logFile, err := os.OpenFile(filepath.Join(mintPath, "mint.log"), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}

	logWriter := io.MultiWriter(os.Stdout, logFile)
	slogLevel := slog.LevelInfo
	switch level {
	case Debug:
		slogLevel = slog.LevelDebug
	case Disable:
		logWriter = io.Discard
	}

	return slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		AddSource:   true,
		Level:       slogLevel,
		ReplaceAttr: replacer,
	})), nil
}

// logInfof preserves the caller's source position so log lines point
// at the call site, not this wrapper.
func (m *Mint) logInfof(format string, args ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelInfo, fmt.Sprintf(format, args...), pcs[0])
	_ = m.logger.Handler().Handle(context.Background(), r)
}

func (m *Mint) logErrorf(format string, args ...any) {
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelError, fmt.Sprintf(format, args...), pcs[0])
	_ = m.logger.Handler().Handle(context.Background(), r)
}

func (m *Mint) logDebugf(format string, args ...any) {
	if !m.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(2, pcs[:])
	r := slog.NewRecord(time.Now(), slog.LevelDebug, fmt.Sprintf(format, args...), pcs[0])
	_ = m.logger.Handler().Handle(context.Background(), r)
}
