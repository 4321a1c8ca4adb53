// Package sqlstore implements the SQL journal and hydration shared by the
// sqlite and postgres drivers. The schema is row oriented: one row per tank,
// per reading and per profile, so a write is a single INSERT.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"aquawatch/internal/infra/persistence/memory"
)

var _ memory.Journal = (*Journal)(nil)

// Dialect captures the per-database differences.
type Dialect struct {
	Name    string
	Numeric bool // $1 style placeholders
	Real    string
	JSON    string
}

// SQLite is the modernc.org/sqlite dialect.
var SQLite = Dialect{Name: "sqlite", Real: "REAL", JSON: "TEXT"}

// Postgres is the pgx dialect.
var Postgres = Dialect{Name: "postgres", Numeric: true, Real: "DOUBLE PRECISION", JSON: "JSONB"}

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numeric {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Schema returns the DDL statements for the dialect.
func (d Dialect) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS tanks (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			display_name TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS readings (
			seq BIGINT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			tank_id TEXT NOT NULL,
			temperature %[1]s NOT NULL,
			ph %[1]s NOT NULL,
			oxygen %[1]s NOT NULL,
			water_level %[1]s NOT NULL,
			observed_at BIGINT NOT NULL,
			recorded_at BIGINT NOT NULL
		)`, d.Real),
		`CREATE INDEX IF NOT EXISTS readings_owner_tank_observed ON readings (owner_id, tank_id, observed_at, seq)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS profiles (
			owner_id TEXT PRIMARY KEY,
			payload %s NOT NULL,
			updated_at BIGINT NOT NULL
		)`, d.JSON),
	}
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	for _, stmt := range d.Schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// Load reads the full state into a memory snapshot.
func Load(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	var snap memory.Snapshot

	rows, err := db.QueryContext(ctx, `SELECT id, owner_id, display_name, created_at FROM tanks ORDER BY created_at, id`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select tanks: %w", err)
	}
	for rows.Next() {
		var (
			rec     memory.TankRecord
			created int64
		)
		if err := rows.Scan(&rec.Tank.ID, &rec.UserID, &rec.Tank.DisplayName, &created); err != nil {
			_ = rows.Close()
			return memory.Snapshot{}, fmt.Errorf("scan tank: %w", err)
		}
		rec.CreatedAt = fromNanos(created)
		snap.Tanks = append(snap.Tanks, rec)
	}
	if err := closeRows(rows); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate tanks: %w", err)
	}

	rows, err = db.QueryContext(ctx, `SELECT seq, owner_id, tank_id, temperature, ph, oxygen, water_level, observed_at, recorded_at FROM readings ORDER BY seq`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select readings: %w", err)
	}
	for rows.Next() {
		var (
			rec                memory.HistoryRecord
			observed, recorded int64
		)
		if err := rows.Scan(&rec.Seq, &rec.UserID, &rec.TankID,
			&rec.Reading.Temperature, &rec.Reading.PH, &rec.Reading.Oxygen, &rec.Reading.WaterLevel,
			&observed, &recorded); err != nil {
			_ = rows.Close()
			return memory.Snapshot{}, fmt.Errorf("scan reading: %w", err)
		}
		rec.Reading.ObservedAt = fromNanos(observed)
		rec.RecordedAt = fromNanos(recorded)
		snap.History = append(snap.History, rec)
	}
	if err := closeRows(rows); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate readings: %w", err)
	}

	rows, err = db.QueryContext(ctx, `SELECT owner_id, payload, updated_at FROM profiles`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select profiles: %w", err)
	}
	for rows.Next() {
		var (
			rec     memory.ProfileRecord
			payload []byte
			updated int64
		)
		if err := rows.Scan(&rec.UserID, &payload, &updated); err != nil {
			_ = rows.Close()
			return memory.Snapshot{}, fmt.Errorf("scan profile: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Profile); err != nil {
			_ = rows.Close()
			return memory.Snapshot{}, fmt.Errorf("decode profile %s: %w", rec.UserID, err)
		}
		rec.UpdatedAt = fromNanos(updated)
		snap.Profiles = append(snap.Profiles, rec)
	}
	if err := closeRows(rows); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate profiles: %w", err)
	}
	return snap, nil
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	if cerr := rows.Close(); err == nil {
		err = cerr
	}
	return err
}

// Journal writes each mutation as one row.
type Journal struct {
	db      *sql.DB
	dialect Dialect
	timeout time.Duration
}

// NewJournal returns a journal on db. A positive timeout bounds every write.
func NewJournal(db *sql.DB, d Dialect, timeout time.Duration) *Journal {
	return &Journal{db: db, dialect: d, timeout: timeout}
}

func (j *Journal) exec(ctx context.Context, query string, args ...any) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	_, err := j.db.ExecContext(ctx, j.dialect.Rebind(query), args...)
	return err
}

// RecordTank implements memory.Journal.
func (j *Journal) RecordTank(ctx context.Context, rec memory.TankRecord) error {
	if err := j.exec(ctx, `INSERT INTO tanks (id, owner_id, display_name, created_at) VALUES (?, ?, ?, ?)`,
		rec.Tank.ID, rec.UserID, rec.Tank.DisplayName, rec.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("insert tank: %w", err)
	}
	return nil
}

// RecordReading implements memory.Journal.
func (j *Journal) RecordReading(ctx context.Context, rec memory.HistoryRecord) error {
	r := rec.Reading
	if err := j.exec(ctx, `INSERT INTO readings (seq, owner_id, tank_id, temperature, ph, oxygen, water_level, observed_at, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Seq, rec.UserID, rec.TankID, r.Temperature, r.PH, r.Oxygen, r.WaterLevel,
		r.ObservedAt.UnixNano(), rec.RecordedAt.UnixNano()); err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

// RecordProfile implements memory.Journal.
func (j *Journal) RecordProfile(ctx context.Context, rec memory.ProfileRecord) error {
	payload, err := json.Marshal(rec.Profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := j.exec(ctx, `INSERT INTO profiles (owner_id, payload, updated_at) VALUES (?, ?, ?) ON CONFLICT (owner_id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		rec.UserID, string(payload), rec.UpdatedAt.UnixNano()); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// Open hydrates a memory store from db and journals future writes to it.
func Open(ctx context.Context, db *sql.DB, d Dialect, timeout time.Duration, opts ...memory.Option) (*memory.Store, error) {
	if err := Migrate(ctx, db, d); err != nil {
		return nil, err
	}
	snap, err := Load(ctx, db)
	if err != nil {
		return nil, err
	}
	opts = append(opts, memory.WithJournal(NewJournal(db, d, timeout)))
	mem := memory.NewStore(opts...)
	mem.ImportState(snap)
	return mem, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
