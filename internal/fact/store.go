package fact

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the shared knowledge base. NOT an interface - concrete type.
// Facts, entities and TTL-bounded alerts persist in SQLite, so a
// debugging command can inspect the store of a pipeline running in
// another process. Thread-safety: all methods are safe for concurrent
// use via an internal mutex, though the coordinator serializes writes
// per tick on top of that.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open creates a Store with the given database path.
// Creates tables if they don't exist.
// Uses WAL mode for better concurrent read performance (file-based DBs only).
func Open(dbPath string) (*Store, error) {
	// Build connection string based on database type
	connStr := dbPath
	if dbPath == ":memory:" {
		// For in-memory databases, use shared cache mode so all connections
		// in the pool see the same database
		connStr = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// For in-memory databases, limit to 1 connection to avoid issues
	// with multiple connections getting different databases
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Enable WAL mode for file-based databases (not :memory:)
	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

// createTables creates the required tables and indexes if they don't exist.
// Timestamps are stored as integer nanoseconds so the uniqueness key and
// window queries use exact values, never string comparison.
func (s *Store) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS facts (
		subject TEXT NOT NULL,
		subject_domain TEXT NOT NULL,
		predicate TEXT NOT NULL,
		object_kind TEXT NOT NULL,
		object_text TEXT NOT NULL DEFAULT '',
		object_num REAL NOT NULL DEFAULT 0,
		object_int INTEGER NOT NULL DEFAULT 0,
		object_bool INTEGER NOT NULL DEFAULT 0,
		ts_ns INTEGER NOT NULL,
		domain TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		UNIQUE(subject, predicate, ts_ns)
	);

	CREATE INDEX IF NOT EXISTS idx_facts_latest ON facts(subject, predicate, ts_ns DESC);
	CREATE INDEX IF NOT EXISTS idx_facts_window ON facts(domain, ts_ns);

	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		first_seen INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS alerts (
		domain TEXT NOT NULL,
		entity TEXT NOT NULL,
		entity_domain TEXT NOT NULL,
		severity TEXT NOT NULL,
		code TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		raised_ns INTEGER NOT NULL,
		expires_ns INTEGER NOT NULL,
		PRIMARY KEY (domain, entity, code)
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Thread-safe: acquires write lock to prevent closing during in-flight operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Append inserts one fact. The subject entity is registered on first
// reference. Returns *DuplicateKeyError if (subject, predicate,
// timestamp) already exists; the store is unchanged in that case.
// Thread-safe: acquires write lock.
func (s *Store) Append(f Fact) error {
	if f.Subject.ID == "" || f.Predicate == "" {
		return fmt.Errorf("append fact: empty subject or predicate")
	}
	if f.Timestamp.IsZero() {
		return fmt.Errorf("append fact: zero timestamp")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	// Entities are created on first reference, never updated after.
	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO entities (id, domain, first_seen) VALUES (?, ?, ?)`,
		f.Subject.ID, string(f.Subject.Domain), f.Timestamp.UnixNano(),
	); err != nil {
		return fmt.Errorf("register entity: %w", err)
	}

	// INSERT OR IGNORE + RowsAffected distinguishes a fresh insert from
	// a duplicate key without racing a separate existence check.
	result, err := tx.Exec(`
		INSERT OR IGNORE INTO facts (
			subject, subject_domain, predicate,
			object_kind, object_text, object_num, object_int, object_bool,
			ts_ns, domain, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		f.Subject.ID,
		string(f.Subject.Domain),
		f.Predicate,
		string(f.Object.Kind()),
		f.Object.str,
		f.Object.num,
		f.Object.n,
		boolToInt(f.Object.b),
		f.Timestamp.UnixNano(),
		string(f.Domain),
		f.Source,
	)
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	if affected == 0 {
		return &DuplicateKeyError{
			Subject:   f.Subject.ID,
			Predicate: f.Predicate,
			Timestamp: f.Timestamp,
		}
	}

	return tx.Commit()
}

// Latest returns the fact with the highest timestamp for
// (subject, predicate), or nil if the key has never been written.
// Thread-safe: acquires read lock.
func (s *Store) Latest(subject, predicate string) (*Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOne(`
		SELECT subject, subject_domain, predicate,
			object_kind, object_text, object_num, object_int, object_bool,
			ts_ns, domain, source
		FROM facts
		WHERE subject = ? AND predicate = ?
		ORDER BY ts_ns DESC
		LIMIT 1
	`, subject, predicate)
}

// LatestInWindow is Latest restricted to timestamps in [t0, t1].
// Thread-safe: acquires read lock.
func (s *Store) LatestInWindow(subject, predicate string, t0, t1 time.Time) (*Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryOne(`
		SELECT subject, subject_domain, predicate,
			object_kind, object_text, object_num, object_int, object_bool,
			ts_ns, domain, source
		FROM facts
		WHERE subject = ? AND predicate = ? AND ts_ns >= ? AND ts_ns <= ?
		ORDER BY ts_ns DESC
		LIMIT 1
	`, subject, predicate, t0.UnixNano(), t1.UnixNano())
}

// Window returns all facts for a domain with timestamps in [t0, t1],
// ordered by timestamp ascending. Each call re-queries; there is no
// hidden cursor state.
// Thread-safe: acquires read lock.
func (s *Store) Window(domain Domain, t0, t1 time.Time) ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryFacts(`
		SELECT subject, subject_domain, predicate,
			object_kind, object_text, object_num, object_int, object_bool,
			ts_ns, domain, source
		FROM facts
		WHERE domain = ? AND ts_ns >= ? AND ts_ns <= ?
		ORDER BY ts_ns ASC, subject ASC, predicate ASC
	`, string(domain), t0.UnixNano(), t1.UnixNano())
}

// SubjectsInWindow returns the distinct subjects with at least one fact
// in the domain within [t0, t1], sorted for deterministic iteration.
// Thread-safe: acquires read lock.
func (s *Store) SubjectsInWindow(domain Domain, t0, t1 time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT DISTINCT subject
		FROM facts
		WHERE domain = ? AND ts_ns >= ? AND ts_ns <= ?
		ORDER BY subject ASC
	`, string(domain), t0.UnixNano(), t1.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		subjects = append(subjects, id)
	}
	return subjects, rows.Err()
}

// EntitiesInWindow returns the distinct subject refs with at least one
// fact in any domain within [t0, t1], sorted by ID.
// Thread-safe: acquires read lock.
func (s *Store) EntitiesInWindow(t0, t1 time.Time) ([]EntityRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT DISTINCT subject, subject_domain
		FROM facts
		WHERE ts_ns >= ? AND ts_ns <= ?
		ORDER BY subject ASC
	`, t0.UnixNano(), t1.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []EntityRef
	for rows.Next() {
		var id, domain string
		if err := rows.Scan(&id, &domain); err != nil {
			return nil, err
		}
		refs = append(refs, EntityRef{ID: id, Domain: Domain(domain)})
	}
	return refs, rows.Err()
}

// HasFactInWindow reports whether the subject has at least one fact in
// the domain within [t0, t1].
// Thread-safe: acquires read lock.
func (s *Store) HasFactInWindow(subject string, domain Domain, t0, t1 time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM facts
		WHERE subject = ? AND domain = ? AND ts_ns >= ? AND ts_ns <= ?
		LIMIT 1
	`, subject, string(domain), t0.UnixNano(), t1.UnixNano()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Snapshot returns every fact in the store, ordered by (timestamp,
// domain, subject, predicate). The dump is lossless: an external
// serializer can reconstruct the full store from it.
// Thread-safe: acquires read lock.
func (s *Store) Snapshot() ([]Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryFacts(`
		SELECT subject, subject_domain, predicate,
			object_kind, object_text, object_num, object_int, object_bool,
			ts_ns, domain, source
		FROM facts
		ORDER BY ts_ns ASC, domain ASC, subject ASC, predicate ASC
	`)
}

// Counts returns total fact and entity counts.
// Thread-safe: acquires read lock.
func (s *Store) Counts() (facts, entities int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err = s.db.QueryRow("SELECT COUNT(*) FROM facts").Scan(&facts); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRow("SELECT COUNT(*) FROM entities").Scan(&entities); err != nil {
		return 0, 0, err
	}
	return facts, entities, nil
}

// CountByDomain returns fact counts grouped by domain.
// Thread-safe: acquires read lock.
func (s *Store) CountByDomain() (map[Domain]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT domain, COUNT(*) FROM facts GROUP BY domain")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Domain]int)
	for rows.Next() {
		var d string
		var n int
		if err := rows.Scan(&d, &n); err != nil {
			return nil, err
		}
		counts[Domain(d)] = n
	}
	return counts, rows.Err()
}

// queryOne executes a single-fact query. Returns nil, nil on no rows.
// Caller must hold s.mu (read lock is sufficient).
func (s *Store) queryOne(query string, args ...any) (*Fact, error) {
	row := s.db.QueryRow(query, args...)
	f, err := scanFact(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// queryFacts is a helper that executes a query and scans results into Facts.
// Caller must hold s.mu (read lock is sufficient).
func (s *Store) queryFacts(query string, args ...any) ([]Fact, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return facts, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanFact decodes one fact row. Timestamps come back in UTC so reads
// are location-independent regardless of the writer's zone.
func scanFact(sc scanner) (Fact, error) {
	var (
		f          Fact
		subjDomain string
		kind       string
		text       string
		num        float64
		n          int64
		b          int
		tsNs       int64
		domain     string
	)
	err := sc.Scan(
		&f.Subject.ID,
		&subjDomain,
		&f.Predicate,
		&kind,
		&text,
		&num,
		&n,
		&b,
		&tsNs,
		&domain,
		&f.Source,
	)
	if err != nil {
		return Fact{}, err
	}

	f.Subject.Domain = Domain(subjDomain)
	f.Domain = Domain(domain)
	f.Timestamp = time.Unix(0, tsNs).UTC()

	switch LiteralKind(kind) {
	case LitFloat:
		f.Object = Float(num)
	case LitInt:
		f.Object = Int(n)
	case LitBool:
		f.Object = Bool(b != 0)
	case LitEntity:
		f.Object = Ref(text)
	default:
		f.Object = Str(text)
	}

	return f, nil
}

// boolToInt converts a bool to an int for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
