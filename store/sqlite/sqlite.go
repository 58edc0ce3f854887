/*
Package sqlite provides a SQLite-backed implementation of loyalty.Store.

PURPOSE:
  Implements the full persistence surface (ledger, accounts, catalog,
  tier state) using SQLite. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  The entries table is append-only:
  - The only UPDATE ever issued sets is_reversed/reversal_reason, inside
    the same transaction that inserts the compensating entry
  - No DELETE statements on entries exist

ATOMICITY:
  AppendEntry and ReverseEntry run entry insert + account balance update
  in one sql transaction, with the account row guarded by a version
  column. A reader can never observe an entry without its balance update.

KEY TABLES:
  accounts:     Materialized balances (available/total/lifetime) + version
  entries:      Immutable ledger of all point changes
  ranks:        Per-business rank ladder (reference data)
  tiers:        Per-business tier ladder (reference data)
  rewards:      Redemption catalog (reference data)
  tier_states:  Per-account tier counters
  tier_history: Append-only tier achievement log

INDEXES:
  - idx_entries_account_created: History pages (hot path)
  - idx_entries_reference: Redemption cap counting
  - idx_entries_expiry: Expiring-soon flagging

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := loyalty.NewEngine(store)

SEE ALSO:
  - loyalty/store.go: Interface definitions and contracts
  - loyalty/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/loyalty"
)

// timeLayout keeps nanosecond precision while staying lexically sortable.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements loyalty.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ loyalty.Store = (*Store)(nil)

// New creates a SQLite store at the given path and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY under concurrent appends.
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

func (s *Store) migrate() error {
	schema := `
	-- Accounts (materialized balance view of the ledger)
	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		member_id TEXT NOT NULL,
		available_points INTEGER NOT NULL DEFAULT 0,
		total_points INTEGER NOT NULL DEFAULT 0,
		lifetime_points INTEGER NOT NULL DEFAULT 0,
		current_rank_id TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		CHECK (available_points >= 0)
	);

	CREATE INDEX IF NOT EXISTS idx_accounts_business
		ON accounts(business_id);

	-- Entries (append-only ledger)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL REFERENCES accounts(id),
		kind TEXT NOT NULL,
		amount INTEGER NOT NULL,
		description TEXT,
		reference_id TEXT,
		reference_type TEXT,
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		multiplier TEXT NOT NULL DEFAULT '1',
		expires_at TEXT,
		is_reversed BOOLEAN NOT NULL DEFAULT FALSE,
		reversal_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		CHECK (amount <> 0),
		CHECK (balance_after = balance_before + amount)
	);

	-- History pages (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_account_created
		ON entries(account_id, created_at DESC);

	-- Redemption cap counting
	CREATE INDEX IF NOT EXISTS idx_entries_reference
		ON entries(reference_type, reference_id) WHERE reference_id IS NOT NULL;

	-- Expiring-soon flagging
	CREATE INDEX IF NOT EXISTS idx_entries_expiry
		ON entries(account_id, expires_at) WHERE expires_at IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_entries_kind
		ON entries(kind);

	-- Ranks (reference data, ordered ladder per business)
	CREATE TABLE IF NOT EXISTS ranks (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		name TEXT NOT NULL,
		level INTEGER NOT NULL,
		points_required INTEGER NOT NULL,
		benefits TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_ranks_business
		ON ranks(business_id, points_required);

	-- Tiers (reference data)
	CREATE TABLE IF NOT EXISTS tiers (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		name TEXT NOT NULL,
		points_required INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tiers_business
		ON tiers(business_id, points_required);

	-- Rewards (reference data)
	CREATE TABLE IF NOT EXISTS rewards (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL,
		name TEXT NOT NULL,
		points_cost INTEGER NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		valid_from TEXT,
		valid_until TEXT,
		max_redemptions INTEGER NOT NULL DEFAULT 0,
		max_redemptions_per_user INTEGER NOT NULL DEFAULT 0,
		minimum_rank_level INTEGER
	);

	-- Tier state (per-account counters)
	CREATE TABLE IF NOT EXISTS tier_states (
		account_id TEXT PRIMARY KEY REFERENCES accounts(id),
		tier_points INTEGER NOT NULL DEFAULT 0,
		lifetime_tier_points INTEGER NOT NULL DEFAULT 0,
		current_tier_id TEXT NOT NULL DEFAULT ''
	);

	-- Tier achievement history (append-only)
	CREATE TABLE IF NOT EXISTS tier_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		account_id TEXT NOT NULL,
		tier_id TEXT NOT NULL,
		previous_tier_id TEXT NOT NULL DEFAULT '',
		achieved_at TEXT NOT NULL,
		points_at_achievement INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tier_history_account
		ON tier_history(account_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER STORE
// =============================================================================

// AppendEntry inserts the entry and writes the account balances in one
// transaction. The account version guards against lost updates.
func (s *Store) AppendEntry(ctx context.Context, entry loyalty.LedgerEntry, account loyalty.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.writeBalances(ctx, tx, account); err != nil {
		return err
	}
	if err := s.insertEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

// ReverseEntry flags the original, inserts the compensating entry, and
// writes the restored balances in one transaction.
func (s *Store) ReverseEntry(ctx context.Context, originalID, reason string, comp loyalty.LedgerEntry, account loyalty.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE entries SET is_reversed = TRUE, reversal_reason = ? WHERE id = ? AND is_reversed = FALSE`,
		reason, originalID,
	)
	if err != nil {
		return fmt.Errorf("failed to flag entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries WHERE id = ?", originalID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return loyalty.ErrEntryNotFound
		}
		return loyalty.ErrAlreadyReversed
	}

	if err := s.writeBalances(ctx, tx, account); err != nil {
		return err
	}
	if err := s.insertEntry(ctx, tx, comp); err != nil {
		return err
	}
	return tx.Commit()
}

// writeBalances asserts the version the caller read and bumps it.
func (s *Store) writeBalances(ctx context.Context, tx *sql.Tx, a loyalty.Account) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET available_points = ?, total_points = ?, lifetime_points = ?,
		    version = version + 1
		WHERE id = ? AND version = ?`,
		a.AvailablePoints, a.TotalPoints, a.LifetimePoints, a.ID, a.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update balances: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts WHERE id = ?", a.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return loyalty.ErrAccountNotFound
		}
		return loyalty.ErrConcurrentModification
	}
	return nil
}

func (s *Store) insertEntry(ctx context.Context, tx *sql.Tx, e loyalty.LedgerEntry) error {
	var expiresAt *string
	if e.ExpiresAt != nil {
		v := e.ExpiresAt.UTC().Format(timeLayout)
		expiresAt = &v
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO entries
		(id, account_id, kind, amount, description, reference_id, reference_type,
		 balance_before, balance_after, multiplier, expires_at, is_reversed,
		 reversal_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, e.Kind, e.Amount, e.Description,
		nullString(e.Reference.ID), nullString(e.Reference.Type),
		e.BalanceBefore, e.BalanceAfter, e.Multiplier.String(), expiresAt,
		e.IsReversed, e.ReversalReason, e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}
	return nil
}

// GetEntry returns a single entry by id.
func (s *Store) GetEntry(ctx context.Context, id string) (*loyalty.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := s.queryEntries(ctx, entrySelect+" WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, loyalty.ErrEntryNotFound
	}
	return &entries[0], nil
}

// History returns one page of the account's ledger, newest first. The
// query is restartable; no cursor survives the call.
func (s *Store) History(ctx context.Context, accountID string, f loyalty.HistoryFilter) (loyalty.HistoryPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f = f.Normalize()

	where := []string{"account_id = ?"}
	args := []any{accountID}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}
	if f.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.From.UTC().Format(timeLayout))
	}
	if f.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, f.To.UTC().Format(timeLayout))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM entries WHERE "+cond, args...,
	).Scan(&total); err != nil {
		return loyalty.HistoryPage{}, err
	}

	// rowid breaks created_at ties in insertion order.
	query := entrySelect + " WHERE " + cond + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)

	entries, err := s.queryEntries(ctx, query, args...)
	if err != nil {
		return loyalty.HistoryPage{}, err
	}

	return loyalty.HistoryPage{
		Entries:  entries,
		Page:     f.Page,
		PageSize: f.PageSize,
		Total:    total,
	}, nil
}

// CountRewardRedemptions counts non-reversed redemptions of a reward
// across all accounts.
func (s *Store) CountRewardRedemptions(ctx context.Context, rewardID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countRedemptions(ctx,
		`SELECT COUNT(*) FROM entries
		 WHERE kind = ? AND reference_type = 'reward' AND reference_id = ?
		   AND is_reversed = FALSE`,
		loyalty.KindRedeemedReward, rewardID)
}

// CountAccountRewardRedemptions is the per-account variant.
func (s *Store) CountAccountRewardRedemptions(ctx context.Context, accountID, rewardID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countRedemptions(ctx,
		`SELECT COUNT(*) FROM entries
		 WHERE kind = ? AND reference_type = 'reward' AND reference_id = ?
		   AND is_reversed = FALSE AND account_id = ?`,
		loyalty.KindRedeemedReward, rewardID, accountID)
}

func (s *Store) countRedemptions(ctx context.Context, query string, args ...any) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// ExpiringEntries returns non-reversed earn entries expiring in (now, before].
func (s *Store) ExpiringEntries(ctx context.Context, accountID string, now, before time.Time) ([]loyalty.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := entrySelect + `
		WHERE account_id = ? AND expires_at IS NOT NULL
		  AND expires_at > ? AND expires_at <= ?
		  AND is_reversed = FALSE AND amount > 0
		ORDER BY expires_at ASC`

	return s.queryEntries(ctx, query, accountID,
		now.UTC().Format(timeLayout), before.UTC().Format(timeLayout))
}

const entrySelect = `
	SELECT id, account_id, kind, amount, description, reference_id, reference_type,
	       balance_before, balance_after, multiplier, expires_at, is_reversed,
	       reversal_reason, created_at
	FROM entries`

func (s *Store) queryEntries(ctx context.Context, query string, args ...any) ([]loyalty.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []loyalty.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (loyalty.LedgerEntry, error) {
	var (
		e             loyalty.LedgerEntry
		description   sql.NullString
		referenceID   sql.NullString
		referenceType sql.NullString
		multiplier    string
		expiresAt     sql.NullString
		createdAt     string
	)

	err := rows.Scan(
		&e.ID, &e.AccountID, &e.Kind, &e.Amount, &description,
		&referenceID, &referenceType, &e.BalanceBefore, &e.BalanceAfter,
		&multiplier, &expiresAt, &e.IsReversed, &e.ReversalReason, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.Description = description.String
	e.Reference = loyalty.Reference{ID: referenceID.String, Type: referenceType.String}
	e.Multiplier, _ = decimal.NewFromString(multiplier)
	if expiresAt.Valid {
		t, _ := time.Parse(timeLayout, expiresAt.String)
		e.ExpiresAt = &t
	}
	e.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return e, nil
}

// =============================================================================
// ACCOUNT STORE
// =============================================================================

func (s *Store) GetAccount(ctx context.Context, id string) (*loyalty.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var a loyalty.Account
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, business_id, member_id, available_points, total_points,
		       lifetime_points, current_rank_id, version, created_at
		FROM accounts WHERE id = ?`, id,
	).Scan(&a.ID, &a.BusinessID, &a.MemberID, &a.AvailablePoints,
		&a.TotalPoints, &a.LifetimePoints, &a.CurrentRankID, &a.Version, &createdAt)

	if err == sql.ErrNoRows {
		return nil, loyalty.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	a.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a loyalty.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts
		(id, business_id, member_id, available_points, total_points,
		 lifetime_points, current_rank_id, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.BusinessID, a.MemberID, a.AvailablePoints, a.TotalPoints,
		a.LifetimePoints, a.CurrentRankID, a.Version,
		a.CreatedAt.UTC().Format(timeLayout),
	)
	if isUniqueConstraintError(err) {
		return loyalty.ErrAccountExists
	}
	return err
}

func (s *Store) SetCurrentRank(ctx context.Context, accountID, rankID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE accounts SET current_rank_id = ? WHERE id = ?", rankID, accountID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return loyalty.ErrAccountNotFound
	}
	return nil
}

// =============================================================================
// CATALOG STORE
// =============================================================================

func (s *Store) RanksByBusiness(ctx context.Context, businessID string) ([]loyalty.Rank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, business_id, name, level, points_required, benefits
		FROM ranks WHERE business_id = ?
		ORDER BY points_required ASC, level ASC`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranks []loyalty.Rank
	for rows.Next() {
		var r loyalty.Rank
		if err := rows.Scan(&r.ID, &r.BusinessID, &r.Name, &r.Level, &r.PointsRequired, &r.Benefits); err != nil {
			return nil, err
		}
		ranks = append(ranks, r)
	}
	return ranks, rows.Err()
}

func (s *Store) GetRank(ctx context.Context, id string) (*loyalty.Rank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r loyalty.Rank
	err := s.db.QueryRowContext(ctx, `
		SELECT id, business_id, name, level, points_required, benefits
		FROM ranks WHERE id = ?`, id,
	).Scan(&r.ID, &r.BusinessID, &r.Name, &r.Level, &r.PointsRequired, &r.Benefits)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) TiersByBusiness(ctx context.Context, businessID string) ([]loyalty.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, business_id, name, points_required
		FROM tiers WHERE business_id = ?
		ORDER BY points_required ASC`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tiers []loyalty.Tier
	for rows.Next() {
		var t loyalty.Tier
		if err := rows.Scan(&t.ID, &t.BusinessID, &t.Name, &t.PointsRequired); err != nil {
			return nil, err
		}
		tiers = append(tiers, t)
	}
	return tiers, rows.Err()
}

func (s *Store) GetReward(ctx context.Context, id string) (*loyalty.Reward, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		r          loyalty.Reward
		validFrom  sql.NullString
		validUntil sql.NullString
		minRank    sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, business_id, name, points_cost, active, valid_from, valid_until,
		       max_redemptions, max_redemptions_per_user, minimum_rank_level
		FROM rewards WHERE id = ?`, id,
	).Scan(&r.ID, &r.BusinessID, &r.Name, &r.PointsCost, &r.Active,
		&validFrom, &validUntil, &r.MaxRedemptions, &r.MaxRedemptionsPerUser, &minRank)

	if err == sql.ErrNoRows {
		return nil, loyalty.ErrRewardNotFound
	}
	if err != nil {
		return nil, err
	}

	if validFrom.Valid {
		t, _ := time.Parse(timeLayout, validFrom.String)
		r.ValidFrom = &t
	}
	if validUntil.Valid {
		t, _ := time.Parse(timeLayout, validUntil.String)
		r.ValidUntil = &t
	}
	if minRank.Valid {
		v := int(minRank.Int64)
		r.MinimumRankLevel = &v
	}
	return &r, nil
}

// SaveRank upserts a rank. Catalog writes belong to configuration
// management; the engine only reads.
func (s *Store) SaveRank(ctx context.Context, r loyalty.Rank) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ranks (id, business_id, name, level, points_required, benefits)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			level = excluded.level,
			points_required = excluded.points_required,
			benefits = excluded.benefits`,
		r.ID, r.BusinessID, r.Name, r.Level, r.PointsRequired, r.Benefits)
	return err
}

// SaveTier upserts a tier.
func (s *Store) SaveTier(ctx context.Context, t loyalty.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tiers (id, business_id, name, points_required)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			points_required = excluded.points_required`,
		t.ID, t.BusinessID, t.Name, t.PointsRequired)
	return err
}

// SaveReward upserts a reward.
func (s *Store) SaveReward(ctx context.Context, r loyalty.Reward) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var validFrom, validUntil *string
	if r.ValidFrom != nil {
		v := r.ValidFrom.UTC().Format(timeLayout)
		validFrom = &v
	}
	if r.ValidUntil != nil {
		v := r.ValidUntil.UTC().Format(timeLayout)
		validUntil = &v
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rewards
		(id, business_id, name, points_cost, active, valid_from, valid_until,
		 max_redemptions, max_redemptions_per_user, minimum_rank_level)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			points_cost = excluded.points_cost,
			active = excluded.active,
			valid_from = excluded.valid_from,
			valid_until = excluded.valid_until,
			max_redemptions = excluded.max_redemptions,
			max_redemptions_per_user = excluded.max_redemptions_per_user,
			minimum_rank_level = excluded.minimum_rank_level`,
		r.ID, r.BusinessID, r.Name, r.PointsCost, r.Active,
		validFrom, validUntil, r.MaxRedemptions, r.MaxRedemptionsPerUser,
		r.MinimumRankLevel)
	return err
}

// =============================================================================
// TIER STORE
// =============================================================================

func (s *Store) GetTierState(ctx context.Context, accountID string) (*loyalty.TierState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := &loyalty.TierState{AccountID: accountID}
	err := s.db.QueryRowContext(ctx, `
		SELECT tier_points, lifetime_tier_points, current_tier_id
		FROM tier_states WHERE account_id = ?`, accountID,
	).Scan(&state.TierPoints, &state.LifetimeTierPoints, &state.CurrentTierID)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT tier_id, previous_tier_id, achieved_at, points_at_achievement
		FROM tier_history WHERE account_id = ?
		ORDER BY seq ASC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var h loyalty.TierAchievement
		var achievedAt string
		if err := rows.Scan(&h.TierID, &h.PreviousTierID, &achievedAt, &h.PointsAtAchievement); err != nil {
			return nil, err
		}
		h.AchievedAt, _ = time.Parse(timeLayout, achievedAt)
		state.History = append(state.History, h)
	}
	return state, rows.Err()
}

// SaveTierState upserts the counters and appends any history rows beyond
// what is already stored. Existing achievements are never rewritten.
func (s *Store) SaveTierState(ctx context.Context, state loyalty.TierState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tier_states (account_id, tier_points, lifetime_tier_points, current_tier_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			tier_points = excluded.tier_points,
			lifetime_tier_points = excluded.lifetime_tier_points,
			current_tier_id = excluded.current_tier_id`,
		state.AccountID, state.TierPoints, state.LifetimeTierPoints, state.CurrentTierID)
	if err != nil {
		return err
	}

	var stored int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tier_history WHERE account_id = ?", state.AccountID,
	).Scan(&stored); err != nil {
		return err
	}

	for i := stored; i < len(state.History); i++ {
		h := state.History[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO tier_history
			(account_id, tier_id, previous_tier_id, achieved_at, points_at_achievement)
			VALUES (?, ?, ?, ?, ?)`,
			state.AccountID, h.TierID, h.PreviousTierID,
			h.AchievedAt.UTC().Format(timeLayout), h.PointsAtAchievement)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"entries", "tier_history", "tier_states", "accounts", "ranks", "tiers", "rewards"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
