/*
Package sqlite provides the SQLite-backed implementation of the storage
contracts.

PURPOSE:
  Implements core.LedgerStore, core.Journal, and core.SessionStore on a
  single SQLite database. The same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  wallets:          one balance row per account
  transactions:     append-only purchase journal (no UPDATE, no DELETE)
  payment_sessions: gateway sessions with status transitions

COMPARE-AND-SWAP:
  Both the conditional debit and the session transitions are single
  UPDATE statements whose WHERE clause pins the expected prior state;
  RowsAffected == 0 means the state moved underneath the caller. No
  read-then-write pair anywhere in the mutation paths.

BALANCE ENCODING:
  Balances and amounts are stored as canonical decimal strings
  (decimal.Decimal.String()). Every write goes through the same
  canonicalization, so the CAS string comparison is exact.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/datavend.db")   // or ":memory:"
  if err != nil { log.Fatal(err) }
  defer store.Close()

SEE ALSO:
  - core/ledger.go, core/journal.go, core/session.go: contracts
  - core/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/kasa/datavend/core"
)

// Store implements all storage contracts using SQLite.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; funneling through a single connection
	// avoids SQLITE_BUSY on concurrent purchases.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Prepaid balances, one row per account
	CREATE TABLE IF NOT EXISTS wallets (
		account_id TEXT PRIMARY KEY,
		balance TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Purchase journal (append-only; no UPDATE or DELETE statements
	-- exist against this table)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		recipient_phone TEXT NOT NULL,
		network TEXT NOT NULL,
		bundle_size INTEGER NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		fulfillment_ref TEXT,
		payment_ref TEXT,
		payment_method TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_account
		ON transactions(account_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_payment_ref
		ON transactions(payment_ref) WHERE payment_ref IS NOT NULL;

	-- Gateway payment sessions
	CREATE TABLE IF NOT EXISTS payment_sessions (
		reference TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		recipient_phone TEXT NOT NULL,
		network TEXT NOT NULL,
		bundle_size INTEGER NOT NULL,
		email TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		transaction_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_status
		ON payment_sessions(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE
// =============================================================================

func (s *Store) Balance(ctx context.Context, id core.AccountID) (decimal.Decimal, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM wallets WHERE account_id = ?`, string(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, core.ErrAccountNotFound
	}
	if err != nil {
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt balance for %s: %w", id, err)
	}
	return balance, nil
}

func (s *Store) EnsureAccount(ctx context.Context, id core.AccountID) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wallets (account_id, balance, created_at, updated_at)
		 VALUES (?, '0', ?, ?)
		 ON CONFLICT(account_id) DO NOTHING`,
		string(id), now, now)
	return err
}

// ConditionalDebit is the single mutation purchases are allowed to make.
// The WHERE clause pins the expected balance; zero rows affected means
// the balance moved since the caller's read.
func (s *Store) ConditionalDebit(ctx context.Context, id core.AccountID, expected, amount decimal.Decimal) error {
	next := expected.Sub(amount)
	if next.IsNegative() {
		return core.ErrDebitConflict
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE wallets SET balance = ?, updated_at = ?
		 WHERE account_id = ? AND balance = ?`,
		next.String(), time.Now().UTC().Format(time.RFC3339Nano),
		string(id), expected.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing account from a lost race.
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(1) FROM wallets WHERE account_id = ?`, string(id)).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return core.ErrAccountNotFound
		}
		return core.ErrDebitConflict
	}
	return nil
}

func (s *Store) Deposit(ctx context.Context, id core.AccountID, amount decimal.Decimal) error {
	if err := s.EnsureAccount(ctx, id); err != nil {
		return err
	}
	// Retry the CAS until it lands; deposits never conflict semantically,
	// only physically with a concurrent debit.
	for {
		balance, err := s.Balance(ctx, id)
		if err != nil {
			return err
		}
		res, err := s.db.ExecContext(ctx,
			`UPDATE wallets SET balance = ?, updated_at = ?
			 WHERE account_id = ? AND balance = ?`,
			balance.Add(amount).String(), time.Now().UTC().Format(time.RFC3339Nano),
			string(id), balance.String())
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n > 0 {
			return nil
		}
	}
}

// =============================================================================
// JOURNAL
// =============================================================================

func (s *Store) Append(ctx context.Context, rec core.TransactionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions
		 (id, account_id, recipient_phone, network, bundle_size, amount,
		  status, fulfillment_ref, payment_ref, payment_method, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.AccountID), rec.RecipientPhone, rec.Network,
		int(rec.BundleSize), rec.Amount.String(), string(rec.Status),
		rec.FulfillmentRef, rec.PaymentRef, string(rec.PaymentMethod),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return core.ErrDuplicateTransaction
	}
	return err
}

func (s *Store) Get(ctx context.Context, id string) (core.TransactionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, account_id, recipient_phone, network, bundle_size, amount,
		        status, fulfillment_ref, payment_ref, payment_method, created_at
		 FROM transactions WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.TransactionRecord{}, core.ErrUnknownReference
	}
	return rec, err
}

func (s *Store) ByAccount(ctx context.Context, id core.AccountID, limit int) ([]core.TransactionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, recipient_phone, network, bundle_size, amount,
		        status, fulfillment_ref, payment_ref, payment_method, created_at
		 FROM transactions WHERE account_id = ?
		 ORDER BY created_at DESC LIMIT ?`, string(id), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

func (s *Store) All(ctx context.Context) ([]core.TransactionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, recipient_phone, network, bundle_size, amount,
		        status, fulfillment_ref, payment_ref, payment_method, created_at
		 FROM transactions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRecords(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (core.TransactionRecord, error) {
	var rec core.TransactionRecord
	var accountID, amount, status, method, createdAt string
	var fulfillmentRef, paymentRef sql.NullString
	var size int

	err := row.Scan(&rec.ID, &accountID, &rec.RecipientPhone, &rec.Network,
		&size, &amount, &status, &fulfillmentRef, &paymentRef, &method, &createdAt)
	if err != nil {
		return core.TransactionRecord{}, err
	}

	rec.AccountID = core.AccountID(accountID)
	rec.BundleSize = core.BundleSize(size)
	rec.Status = core.TxStatus(status)
	rec.FulfillmentRef = fulfillmentRef.String
	rec.PaymentRef = paymentRef.String
	rec.PaymentMethod = core.PaymentMode(method)

	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.TransactionRecord{}, fmt.Errorf("corrupt amount on %s: %w", rec.ID, err)
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return core.TransactionRecord{}, fmt.Errorf("corrupt timestamp on %s: %w", rec.ID, err)
	}
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]core.TransactionRecord, error) {
	var out []core.TransactionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// =============================================================================
// SESSION STORE
// =============================================================================

func (s *Store) Create(ctx context.Context, session core.PaymentSession) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payment_sessions
		 (reference, account_id, recipient_phone, network, bundle_size,
		  email, amount, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.Reference, string(session.AccountID),
		session.Intent.RecipientPhone, string(session.Intent.Network),
		int(session.Intent.BundleSize), session.Intent.Email,
		session.Amount.String(), string(session.Status),
		session.CreatedAt.UTC().Format(time.RFC3339Nano), now)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return core.ErrSessionConflict
	}
	return err
}

func (s *Store) Session(ctx context.Context, reference string) (core.PaymentSession, error) {
	var session core.PaymentSession
	var accountID, phone, network, email, amount, status, createdAt string
	var txID sql.NullString
	var size int

	err := s.db.QueryRowContext(ctx,
		`SELECT reference, account_id, recipient_phone, network, bundle_size,
		        email, amount, status, transaction_id, created_at
		 FROM payment_sessions WHERE reference = ?`, reference).
		Scan(&session.Reference, &accountID, &phone, &network, &size,
			&email, &amount, &status, &txID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PaymentSession{}, core.ErrUnknownReference
	}
	if err != nil {
		return core.PaymentSession{}, err
	}

	session.AccountID = core.AccountID(accountID)
	session.Status = core.SessionStatus(status)
	session.TransactionID = txID.String
	session.Intent = core.PurchaseIntent{
		AccountID:      core.AccountID(accountID),
		RecipientPhone: phone,
		Network:        core.Network(network),
		BundleSize:     core.BundleSize(size),
		Email:          email,
	}
	if session.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.PaymentSession{}, fmt.Errorf("corrupt amount on session %s: %w", reference, err)
	}
	if session.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return core.PaymentSession{}, fmt.Errorf("corrupt timestamp on session %s: %w", reference, err)
	}
	return session, nil
}

// Transition is a compare-and-swap on the session status.
func (s *Store) Transition(ctx context.Context, reference string, from, to core.SessionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payment_sessions SET status = ?, updated_at = ?
		 WHERE reference = ? AND status = ?`,
		string(to), time.Now().UTC().Format(time.RFC3339Nano),
		reference, string(from))
	if err != nil {
		return err
	}
	return s.casOutcome(ctx, res, reference)
}

// Consume moves a verified session to consumed and pins the journal
// record ID in the same statement. At most one caller ever gets a
// non-zero RowsAffected for a given reference.
func (s *Store) Consume(ctx context.Context, reference string, transactionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE payment_sessions SET status = ?, transaction_id = ?, updated_at = ?
		 WHERE reference = ? AND status = ?`,
		string(core.SessionConsumed), transactionID,
		time.Now().UTC().Format(time.RFC3339Nano),
		reference, string(core.SessionVerified))
	if err != nil {
		return err
	}
	return s.casOutcome(ctx, res, reference)
}

func (s *Store) casOutcome(ctx context.Context, res sql.Result, reference string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM payment_sessions WHERE reference = ?`, reference).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return core.ErrUnknownReference
	}
	return core.ErrSessionConflict
}
