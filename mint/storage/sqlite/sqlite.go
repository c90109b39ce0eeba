// Package sqlite is the durable Store implementation backing a
// long-running mint: one file, one connection, serialized writes via
// database/sql's own connection pool limit, migrated on startup.
package sqlite

import (
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"

	"github.com/rnambaale/monexo-ecash/mint/storage"
	"github.com/rnambaale/monexo-ecash/token"
)

//go:embed migrations
var migrations embed.FS

// Store is a database/sql-backed storage.Store, single-connection to
// keep every write serialized the same way the in-memory store's
// mutex does.
type Store struct {
	db *sql.DB
}

// migrationsDir copies the embedded migration files to a temp
// directory so golang-migrate's file source (which needs a real
// filesystem path) can read them.
func migrationsDir() (string, error) {
	tempDir, err := os.MkdirTemp("", "monexo-migrations")
	if err != nil {
		return "", err
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		src, err := migrations.Open(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return "", err
		}

		dst, err := os.Create(filepath.Join(tempDir, entry.Name()))
		if err != nil {
			src.Close()
			return "", err
		}

		_, err = io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			return "", err
		}
	}

	return tempDir, nil
}

// Init opens (creating if absent) the sqlite database at path and
// runs every pending migration.
func Init(path string) (*Store, error) {
	dbPath := filepath.Join(path, "mint.sqlite.db")
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	tempDir, err := migrationsDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tempDir)

	m, err := migrate.New(fmt.Sprintf("file://%s", tempDir), fmt.Sprintf("sqlite3://%s", dbPath))
	if err != nil {
		return nil, err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveSeed(seed []byte) error {
	_, err := s.db.Exec("INSERT INTO seed (id, seed) VALUES (?, ?)", "master", hex.EncodeToString(seed))
	return err
}

func (s *Store) GetSeed() ([]byte, error) {
	var hexSeed string
	row := s.db.QueryRow("SELECT seed FROM seed WHERE id = ?", "master")
	if err := row.Scan(&hexSeed); err != nil {
		return nil, err
	}
	return hex.DecodeString(hexSeed)
}

func (s *Store) SaveKeyset(ks storage.DBKeyset) error {
	_, err := s.db.Exec(
		`INSERT INTO keysets (id, unit, active, derivation_path_idx, max_order, input_fee_ppk)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ks.Id, ks.Unit, ks.Active, ks.DerivationPathIdx, ks.MaxOrder, ks.InputFeePpk,
	)
	return err
}

func (s *Store) GetKeysets() ([]storage.DBKeyset, error) {
	rows, err := s.db.Query("SELECT id, unit, active, derivation_path_idx, max_order, input_fee_ppk FROM keysets")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keysets := []storage.DBKeyset{}
	for rows.Next() {
		var ks storage.DBKeyset
		if err := rows.Scan(&ks.Id, &ks.Unit, &ks.Active, &ks.DerivationPathIdx, &ks.MaxOrder, &ks.InputFeePpk); err != nil {
			return nil, err
		}
		keysets = append(keysets, ks)
	}
	return keysets, rows.Err()
}

func (s *Store) UpdateKeysetActive(id string, active bool) error {
	result, err := s.db.Exec("UPDATE keysets SET active = ? WHERE id = ?", active, id)
	if err != nil {
		return err
	}
	return expectOneRow(result, "keyset was not updated")
}

func (s *Store) SaveProofs(proofs token.Proofs) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO proofs (secret, amount, keyset_id, c) VALUES (?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range proofs {
		if _, err := stmt.Exec(p.Secret, p.Amount, p.Id, p.C); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetProofsUsed(secrets []string) ([]storage.DBProof, error) {
	if len(secrets) == 0 {
		return nil, nil
	}

	query := "SELECT secret, amount, keyset_id, c FROM proofs WHERE secret IN (?" + strings.Repeat(",?", len(secrets)-1) + ")"
	args := toAnySlice(secrets)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	proofs := []storage.DBProof{}
	for rows.Next() {
		var p storage.DBProof
		if err := rows.Scan(&p.Secret, &p.Amount, &p.Id, &p.C); err != nil {
			return nil, err
		}
		proofs = append(proofs, p)
	}
	return proofs, rows.Err()
}

// AddPendingProofs performs the all-or-nothing reservation check
// inside a single transaction: any secret already present in either
// proofs or pending_proofs aborts the whole batch.
func (s *Store) AddPendingProofs(proofs token.Proofs, meltQuoteId string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seen := make(map[string]bool, len(proofs))
	for _, p := range proofs {
		if seen[p.Secret] {
			return &storage.DoubleSpendError{Secret: p.Secret}
		}
		seen[p.Secret] = true

		var count int
		row := tx.QueryRow(
			"SELECT (SELECT COUNT(*) FROM proofs WHERE secret = ?) + (SELECT COUNT(*) FROM pending_proofs WHERE secret = ?)",
			p.Secret, p.Secret,
		)
		if err := row.Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return &storage.DoubleSpendError{Secret: p.Secret}
		}
	}

	stmt, err := tx.Prepare("INSERT INTO pending_proofs (secret, amount, keyset_id, c, melt_quote_id) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range proofs {
		if _, err := stmt.Exec(p.Secret, p.Amount, p.Id, p.C, meltQuoteId); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetPendingProofsByQuote(meltQuoteId string) ([]storage.DBProof, error) {
	rows, err := s.db.Query(
		"SELECT secret, amount, keyset_id, c, melt_quote_id FROM pending_proofs WHERE melt_quote_id = ?",
		meltQuoteId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	proofs := []storage.DBProof{}
	for rows.Next() {
		var p storage.DBProof
		if err := rows.Scan(&p.Secret, &p.Amount, &p.Id, &p.C, &p.MeltQuoteId); err != nil {
			return nil, err
		}
		proofs = append(proofs, p)
	}
	return proofs, rows.Err()
}

func (s *Store) RemovePendingProofs(secrets []string) error {
	if len(secrets) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("DELETE FROM pending_proofs WHERE secret = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, secret := range secrets {
		if _, err := stmt.Exec(secret); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) SaveMintQuote(q storage.MintQuote) error {
	_, err := s.db.Exec(
		"INSERT INTO mint_quotes (id, unit, amount, reference, fee_total, state, expiry) VALUES (?, ?, ?, ?, ?, ?, ?)",
		q.Id, q.Unit, q.Amount, q.Reference, q.FeeTotal, q.State.String(), q.Expiry,
	)
	return err
}

func (s *Store) GetMintQuote(id string) (storage.MintQuote, error) {
	row := s.db.QueryRow("SELECT id, unit, amount, reference, fee_total, state, expiry FROM mint_quotes WHERE id = ?", id)
	return scanMintQuote(row.Scan)
}

func (s *Store) GetMintQuoteByReference(reference string) (storage.MintQuote, error) {
	row := s.db.QueryRow("SELECT id, unit, amount, reference, fee_total, state, expiry FROM mint_quotes WHERE reference = ?", reference)
	return scanMintQuote(row.Scan)
}

func scanMintQuote(scan func(...any) error) (storage.MintQuote, error) {
	var q storage.MintQuote
	var state string
	if err := scan(&q.Id, &q.Unit, &q.Amount, &q.Reference, &q.FeeTotal, &state, &q.Expiry); err != nil {
		return storage.MintQuote{}, err
	}
	q.State = stringToMintQuoteState(state)
	return q, nil
}

func (s *Store) UpdateMintQuoteState(id string, state storage.MintQuoteState) error {
	result, err := s.db.Exec("UPDATE mint_quotes SET state = ? WHERE id = ?", state.String(), id)
	if err != nil {
		return err
	}
	return expectOneRow(result, "mint quote was not updated")
}

func (s *Store) GetOpenMintQuotes() ([]storage.MintQuote, error) {
	rows, err := s.db.Query(
		"SELECT id, unit, amount, reference, fee_total, state, expiry FROM mint_quotes WHERE state NOT IN (?, ?)",
		storage.MintQuoteIssued.String(), storage.MintQuoteExpired.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	quotes := []storage.MintQuote{}
	for rows.Next() {
		q, err := scanMintQuote(rows.Scan)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func (s *Store) SaveMeltQuote(q storage.MeltQuote) error {
	_, err := s.db.Exec(
		`INSERT INTO melt_quotes (id, unit, amount, fee_total, payout_target, state, expiry, tx_reference)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		q.Id, q.Unit, q.Amount, q.FeeTotal, q.PayoutTarget, q.State.String(), q.Expiry, q.TxReference,
	)
	return err
}

func (s *Store) GetMeltQuote(id string) (storage.MeltQuote, error) {
	row := s.db.QueryRow(
		"SELECT id, unit, amount, fee_total, payout_target, state, expiry, tx_reference FROM melt_quotes WHERE id = ?",
		id,
	)

	var q storage.MeltQuote
	var state string
	var txReference sql.NullString
	if err := row.Scan(&q.Id, &q.Unit, &q.Amount, &q.FeeTotal, &q.PayoutTarget, &state, &q.Expiry, &txReference); err != nil {
		return storage.MeltQuote{}, err
	}
	q.State = stringToMeltQuoteState(state)
	if txReference.Valid {
		q.TxReference = txReference.String
	}
	return q, nil
}

func (s *Store) UpdateMeltQuoteState(id string, state storage.MeltQuoteState, txReference string) error {
	result, err := s.db.Exec(
		"UPDATE melt_quotes SET state = ?, tx_reference = ? WHERE id = ?",
		state.String(), txReference, id,
	)
	if err != nil {
		return err
	}
	return expectOneRow(result, "melt quote was not updated")
}

func (s *Store) GetOpenMeltQuotes() ([]storage.MeltQuote, error) {
	rows, err := s.db.Query(
		"SELECT id, unit, amount, fee_total, payout_target, state, expiry, tx_reference FROM melt_quotes WHERE state NOT IN (?, ?, ?)",
		storage.MeltQuotePaid.String(), storage.MeltQuoteFailed.String(), storage.MeltQuoteExpired.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	quotes := []storage.MeltQuote{}
	for rows.Next() {
		var q storage.MeltQuote
		var state string
		var txReference sql.NullString
		if err := rows.Scan(&q.Id, &q.Unit, &q.Amount, &q.FeeTotal, &q.PayoutTarget, &state, &q.Expiry, &txReference); err != nil {
			return nil, err
		}
		q.State = stringToMeltQuoteState(state)
		if txReference.Valid {
			q.TxReference = txReference.String
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func (s *Store) SaveBlindSignatures(B_s []string, sigs token.BlindedSignatures) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("INSERT INTO blind_signatures (b_, c_, keyset_id, amount, quote_id, e, s) VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, sig := range sigs {
		var e, sVal string
		if sig.DLEQ != nil {
			e, sVal = sig.DLEQ.E, sig.DLEQ.S
		}
		if _, err := stmt.Exec(B_s[i], sig.C_, sig.Id, sig.Amount, sig.QuoteId, e, sVal); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) GetBlindSignatures(B_s []string) (token.BlindedSignatures, error) {
	if len(B_s) == 0 {
		return nil, nil
	}

	query := "SELECT amount, c_, keyset_id, quote_id, e, s FROM blind_signatures WHERE b_ IN (?" + strings.Repeat(",?", len(B_s)-1) + ")"
	args := toAnySlice(B_s)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sigs := token.BlindedSignatures{}
	for rows.Next() {
		var sig token.BlindedSignature
		var e, sVal sql.NullString
		if err := rows.Scan(&sig.Amount, &sig.C_, &sig.Id, &sig.QuoteId, &e, &sVal); err != nil {
			return nil, err
		}
		if e.Valid && sVal.Valid {
			sig.DLEQ = &token.DLEQProof{E: e.String, S: sVal.String}
		}
		sigs = append(sigs, sig)
	}
	return sigs, rows.Err()
}

func (s *Store) GetIssuedEcash() (map[string]uint64, error) {
	return s.sumByKeyset("blind_signatures", "keyset_id", "amount")
}

func (s *Store) GetRedeemedEcash() (map[string]uint64, error) {
	return s.sumByKeyset("proofs", "keyset_id", "amount")
}

func (s *Store) sumByKeyset(table, keysetCol, amountCol string) (map[string]uint64, error) {
	rows, err := s.db.Query(fmt.Sprintf("SELECT %s, SUM(%s) FROM %s GROUP BY %s", keysetCol, amountCol, table, keysetCol))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]uint64)
	for rows.Next() {
		var keysetId string
		var amount uint64
		if err := rows.Scan(&keysetId, &amount); err != nil {
			return nil, err
		}
		totals[keysetId] = amount
	}
	return totals, rows.Err()
}

func expectOneRow(result sql.Result, errMsg string) error {
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count != 1 {
		return errors.New(errMsg)
	}
	return nil
}

func toAnySlice(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func stringToMintQuoteState(s string) storage.MintQuoteState {
	switch s {
	case "PAID":
		return storage.MintQuotePaid
	case "ISSUED":
		return storage.MintQuoteIssued
	case "EXPIRED":
		return storage.MintQuoteExpired
	default:
		return storage.MintQuoteUnpaid
	}
}

func stringToMeltQuoteState(s string) storage.MeltQuoteState {
	switch s {
	case "PENDING":
		return storage.MeltQuotePending
	case "PAID":
		return storage.MeltQuotePaid
	case "FAILED":
		return storage.MeltQuoteFailed
	case "EXPIRED":
		return storage.MeltQuoteExpired
	default:
		return storage.MeltQuoteUnpaid
	}
}

var _ storage.Store = (*Store)(nil)
