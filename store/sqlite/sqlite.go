/*
Package sqlite provides the SQLite-backed implementation of every
storage interface in the engine.

PURPOSE:
  One Store implements rates.Store, snapshot.Store, outbox.Store,
  billing.Store and engine.BankHolidayCalendar. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

IMMUTABILITY:
  Timesheet versions and financial snapshots are never updated in
  place. A resubmission inserts a higher version and clears the prior
  version's current flag; a recompute supersedes the current snapshot
  rather than rewriting it. The only mutable snapshot columns are the
  bookkeeping ones: is_current, status promotion, the invoice lock and
  the stale flag - each changed by a single conditional UPDATE.

LINEARIZATION POINTS:
  Three conditional updates carry all of the engine's concurrency:
  - outbox lease:     UPDATE ... WHERE unleased AND visible
  - snapshot promote: UPDATE ... WHERE current AND READY_FOR_HR
  - invoice lock:     UPDATE ... WHERE current AND unlocked AND
                      READY_FOR_INVOICE
  A zero rows-affected result means another writer won; callers get a
  typed conflict, never a partial write.

ENCODING:
  Instants are RFC3339 TEXT in UTC, calendar dates are ISO TEXT, money
  and hours are decimal strings, rate cards are JSON objects whose
  null members mean "no rate resolved" (never zero).

WAL MODE:
  The database is opened with WAL and foreign keys on. Readers don't
  block each other; there is a single writer at a time.

USAGE:
  store, err := sqlite.New("./data/engine.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - migrations/: versioned embedded schema
  - rates/store.go, snapshot/store.go, outbox/store.go,
    billing/store.go: the interfaces implemented here
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/store/sqlite/migrations"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at the given path and applies
// pending migrations. Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: SQLite has a single writer anyway, and a pooled
	// ":memory:" database would otherwise be a fresh empty database per
	// connection.
	db.SetMaxOpenConns(1)

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// ENCODING HELPERS
// =============================================================================

// timeLayout is fixed-width: RFC3339Nano trims trailing zeros, which
// breaks lexicographic TEXT comparison of instants within one second.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func encodeTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func decodeTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return encodeTime(*t)
}

func decodeTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := decodeTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func encodeDatePtr(d *engine.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func decodeDatePtr(s sql.NullString) (*engine.Date, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := engine.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func decodeDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return d, nil
}

// bandArg maps the nil-means-unbanded pointer to a SQL value.
func bandArg(band *string) any {
	if band == nil {
		return nil
	}
	return *band
}

func decodeBand(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// rateCardJSON serializes a RateCard. A null member is an unresolved
// rate, which is distinct from zero.
type rateCardJSON struct {
	Day         *string `json:"day,omitempty"`
	Night       *string `json:"night,omitempty"`
	Saturday    *string `json:"saturday,omitempty"`
	Sunday      *string `json:"sunday,omitempty"`
	BankHoliday *string `json:"bank_holiday,omitempty"`
}

func encodeMoney(m engine.Money) *string {
	if !m.Valid {
		return nil
	}
	s := m.Value.String()
	return &s
}

func decodeMoney(s *string) (engine.Money, error) {
	if s == nil {
		return engine.Money{}, nil
	}
	d, err := decodeDecimal(*s)
	if err != nil {
		return engine.Money{}, err
	}
	return engine.NewMoney(d), nil
}

func encodeRateCard(rc engine.RateCard) (string, error) {
	b, err := json.Marshal(rateCardJSON{
		Day:         encodeMoney(rc.Day),
		Night:       encodeMoney(rc.Night),
		Saturday:    encodeMoney(rc.Saturday),
		Sunday:      encodeMoney(rc.Sunday),
		BankHoliday: encodeMoney(rc.BankHoliday),
	})
	if err != nil {
		return "", fmt.Errorf("encoding rate card: %w", err)
	}
	return string(b), nil
}

func decodeRateCard(s string) (engine.RateCard, error) {
	var row rateCardJSON
	if err := json.Unmarshal([]byte(s), &row); err != nil {
		return engine.RateCard{}, fmt.Errorf("decoding rate card: %w", err)
	}
	var rc engine.RateCard
	var err error
	if rc.Day, err = decodeMoney(row.Day); err != nil {
		return engine.RateCard{}, err
	}
	if rc.Night, err = decodeMoney(row.Night); err != nil {
		return engine.RateCard{}, err
	}
	if rc.Saturday, err = decodeMoney(row.Saturday); err != nil {
		return engine.RateCard{}, err
	}
	if rc.Sunday, err = decodeMoney(row.Sunday); err != nil {
		return engine.RateCard{}, err
	}
	if rc.BankHoliday, err = decodeMoney(row.BankHoliday); err != nil {
		return engine.RateCard{}, err
	}
	return rc, nil
}

type hoursJSON struct {
	Day         string `json:"day"`
	Night       string `json:"night"`
	Saturday    string `json:"saturday"`
	Sunday      string `json:"sunday"`
	BankHoliday string `json:"bank_holiday"`
}

func encodeHours(h engine.HourBuckets) (string, error) {
	b, err := json.Marshal(hoursJSON{
		Day:         h.Day.String(),
		Night:       h.Night.String(),
		Saturday:    h.Saturday.String(),
		Sunday:      h.Sunday.String(),
		BankHoliday: h.BankHoliday.String(),
	})
	if err != nil {
		return "", fmt.Errorf("encoding hours: %w", err)
	}
	return string(b), nil
}

func decodeHours(s string) (engine.HourBuckets, error) {
	if s == "" || s == "{}" {
		return engine.HourBuckets{}, nil
	}
	var row hoursJSON
	if err := json.Unmarshal([]byte(s), &row); err != nil {
		return engine.HourBuckets{}, fmt.Errorf("decoding hours: %w", err)
	}
	var h engine.HourBuckets
	var err error
	if h.Day, err = decodeDecimal(row.Day); err != nil {
		return engine.HourBuckets{}, err
	}
	if h.Night, err = decodeDecimal(row.Night); err != nil {
		return engine.HourBuckets{}, err
	}
	if h.Saturday, err = decodeDecimal(row.Saturday); err != nil {
		return engine.HourBuckets{}, err
	}
	if h.Sunday, err = decodeDecimal(row.Sunday); err != nil {
		return engine.HourBuckets{}, err
	}
	if h.BankHoliday, err = decodeDecimal(row.BankHoliday); err != nil {
		return engine.HourBuckets{}, err
	}
	return h, nil
}

type breakJSON struct {
	Intervals []struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"intervals,omitempty"`
	DurationSeconds int64 `json:"duration_seconds,omitempty"`
}

func encodeBreak(b engine.BreakSpec) (string, error) {
	var row breakJSON
	for _, iv := range b.Intervals {
		row.Intervals = append(row.Intervals, struct {
			Start string `json:"start"`
			End   string `json:"end"`
		}{Start: encodeTime(iv.Start), End: encodeTime(iv.End)})
	}
	row.DurationSeconds = int64(b.Duration / time.Second)
	out, err := json.Marshal(row)
	if err != nil {
		return "", fmt.Errorf("encoding break: %w", err)
	}
	return string(out), nil
}

func decodeBreak(s string) (engine.BreakSpec, error) {
	if s == "" || s == "{}" {
		return engine.BreakSpec{}, nil
	}
	var row breakJSON
	if err := json.Unmarshal([]byte(s), &row); err != nil {
		return engine.BreakSpec{}, fmt.Errorf("decoding break: %w", err)
	}
	var b engine.BreakSpec
	for _, iv := range row.Intervals {
		start, err := decodeTime(iv.Start)
		if err != nil {
			return engine.BreakSpec{}, err
		}
		end, err := decodeTime(iv.End)
		if err != nil {
			return engine.BreakSpec{}, err
		}
		b.Intervals = append(b.Intervals, engine.Interval{Start: start, End: end})
	}
	b.Duration = time.Duration(row.DurationSeconds) * time.Second
	return b, nil
}

// =============================================================================
// CANDIDATES AND CLIENTS
// =============================================================================

// UpsertCandidate inserts or replaces a candidate record.
func (s *Store) UpsertCandidate(ctx context.Context, c engine.Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO candidates (id, name, channel, bank_details_complete, company_details_complete)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			channel = excluded.channel,
			bank_details_complete = excluded.bank_details_complete,
			company_details_complete = excluded.company_details_complete`,
		c.ID, c.Name, string(c.Channel), c.BankDetailsComplete, c.CompanyDetailsComplete)
	if err != nil {
		return fmt.Errorf("upserting candidate %s: %w", c.ID, err)
	}
	return nil
}

// GetCandidate returns the candidate record or nil if unknown.
func (s *Store) GetCandidate(ctx context.Context, id string) (*engine.Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c engine.Candidate
	var channel string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, channel, bank_details_complete, company_details_complete
		FROM candidates WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &channel, &c.BankDetailsComplete, &c.CompanyDetailsComplete)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading candidate %s: %w", id, err)
	}
	c.Channel = engine.PayChannel(channel)
	return &c, nil
}

// UpsertClient inserts or replaces a client record with its policy.
func (s *Store) UpsertClient(ctx context.Context, c engine.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, timezone, day_start_minute, day_end_minute, holiday_calendar)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			timezone = excluded.timezone,
			day_start_minute = excluded.day_start_minute,
			day_end_minute = excluded.day_end_minute,
			holiday_calendar = excluded.holiday_calendar`,
		c.ID, c.Name, c.Policy.Timezone, c.Policy.DayStartMinute, c.Policy.DayEndMinute,
		c.Policy.HolidayCalendar)
	if err != nil {
		return fmt.Errorf("upserting client %s: %w", c.ID, err)
	}
	return nil
}

// GetClient returns the client record or nil if unknown.
func (s *Store) GetClient(ctx context.Context, id string) (*engine.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c engine.Client
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, timezone, day_start_minute, day_end_minute, holiday_calendar
		FROM clients WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Policy.Timezone, &c.Policy.DayStartMinute,
			&c.Policy.DayEndMinute, &c.Policy.HolidayCalendar)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading client %s: %w", id, err)
	}
	return &c, nil
}

// =============================================================================
// BANK HOLIDAYS - implements engine.BankHolidayCalendar
// =============================================================================

// AddBankHoliday records a bank holiday on a named calendar.
func (s *Store) AddBankHoliday(ctx context.Context, calendar string, day engine.Date, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bank_holidays (calendar, day, name) VALUES (?, ?, ?)
		ON CONFLICT(calendar, day) DO UPDATE SET name = excluded.name`,
		calendar, day.String(), name)
	if err != nil {
		return fmt.Errorf("adding bank holiday: %w", err)
	}
	return nil
}

// IsBankHoliday reports whether the date is a bank holiday on the named
// calendar. An empty calendar name never matches.
func (s *Store) IsBankHoliday(calendar string, d engine.Date) bool {
	if calendar == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM bank_holidays WHERE calendar = ? AND day = ?`,
		calendar, d.String()).Scan(&n)
	return err == nil && n > 0
}

// =============================================================================
// FEATURE FLAGS AND VALIDATION RECORDS
// =============================================================================

const (
	flagValidationRequired = "validation_required"
	flagReferenceRequired  = "reference_required"
)

// SetFeatureFlag switches a named flag on or off.
func (s *Store) SetFeatureFlag(ctx context.Context, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO feature_flags (name, enabled) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET enabled = excluded.enabled`,
		name, enabled)
	if err != nil {
		return fmt.Errorf("setting flag %s: %w", name, err)
	}
	return nil
}

// FeatureFlags loads the global switches. Unset flags default to off.
func (s *Store) FeatureFlags(ctx context.Context) (engine.FeatureFlags, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT name, enabled FROM feature_flags`)
	if err != nil {
		return engine.FeatureFlags{}, fmt.Errorf("loading feature flags: %w", err)
	}
	defer rows.Close()

	var flags engine.FeatureFlags
	for rows.Next() {
		var name string
		var enabled bool
		if err := rows.Scan(&name, &enabled); err != nil {
			return engine.FeatureFlags{}, err
		}
		switch name {
		case flagValidationRequired:
			flags.ValidationRequired = enabled
		case flagReferenceRequired:
			flags.ReferenceRequired = enabled
		}
	}
	return flags, rows.Err()
}
