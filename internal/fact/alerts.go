package fact

import (
	"database/sql"
	"fmt"
	"time"
)

// RaiseAlert inserts or refreshes an alert. If an unexpired alert with
// the same dedup key exists, its ExpiresAt is extended to the later of
// the two and the existing alert is returned with refreshed=true; the
// active-alert count never grows on re-raise. An expired entry with the
// same key is replaced outright.
// Thread-safe: acquires write lock.
func (s *Store) RaiseAlert(a Alert, now time.Time) (Alert, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.alertByKey(a.Domain, a.Entity.ID, a.Code)
	if err != nil {
		return Alert{}, false, err
	}
	if existing != nil && existing.Active(now) {
		if a.ExpiresAt.After(existing.ExpiresAt) {
			if _, err := s.db.Exec(
				`UPDATE alerts SET expires_ns = ? WHERE domain = ? AND entity = ? AND code = ?`,
				a.ExpiresAt.UnixNano(), string(a.Domain), a.Entity.ID, a.Code,
			); err != nil {
				return Alert{}, false, fmt.Errorf("refresh alert: %w", err)
			}
			existing.ExpiresAt = a.ExpiresAt
		}
		return *existing, true, nil
	}

	if _, err := s.db.Exec(`
		INSERT OR REPLACE INTO alerts (
			domain, entity, entity_domain, severity, code,
			message, raised_ns, expires_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(a.Domain), a.Entity.ID, string(a.Entity.Domain),
		string(a.Severity), a.Code, a.Message,
		a.RaisedAt.UnixNano(), a.ExpiresAt.UnixNano(),
	); err != nil {
		return Alert{}, false, fmt.Errorf("raise alert: %w", err)
	}
	return a, false, nil
}

// ActiveAlerts returns unexpired alerts, filtered to one domain when
// domain is non-empty. Expiry is evaluated lazily at read time; expired
// rows are left in place for PruneAlerts. The result is sorted by
// (domain, entity, code) for deterministic iteration.
// Thread-safe: acquires read lock.
func (s *Store) ActiveAlerts(domain Domain, now time.Time) ([]Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT domain, entity, entity_domain, severity, code,
			message, raised_ns, expires_ns
		FROM alerts
		WHERE expires_ns > ?`
	args := []any{now.UnixNano()}
	if domain != "" {
		query += ` AND domain = ?`
		args = append(args, string(domain))
	}
	query += ` ORDER BY domain ASC, entity ASC, code ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var active []Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		active = append(active, a)
	}
	return active, rows.Err()
}

// PruneAlerts deletes expired alerts and returns how many were dropped.
// Optional: correctness never depends on it, only table size on long
// runs.
// Thread-safe: acquires write lock.
func (s *Store) PruneAlerts(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM alerts WHERE expires_ns <= ?`, now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune alerts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// alertByKey looks up one alert row. Returns nil, nil when the key has
// never been raised. Caller must hold s.mu.
func (s *Store) alertByKey(domain Domain, entity, code string) (*Alert, error) {
	row := s.db.QueryRow(`
		SELECT domain, entity, entity_domain, severity, code,
			message, raised_ns, expires_ns
		FROM alerts
		WHERE domain = ? AND entity = ? AND code = ?
	`, string(domain), entity, code)

	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// scanAlert decodes one alert row. Timestamps come back in UTC.
func scanAlert(sc scanner) (Alert, error) {
	var (
		a            Alert
		domain       string
		entityDomain string
		severity     string
		raisedNs     int64
		expiresNs    int64
	)
	err := sc.Scan(
		&domain,
		&a.Entity.ID,
		&entityDomain,
		&severity,
		&a.Code,
		&a.Message,
		&raisedNs,
		&expiresNs,
	)
	if err != nil {
		return Alert{}, err
	}

	a.Domain = Domain(domain)
	a.Entity.Domain = Domain(entityDomain)
	a.Severity = Severity(severity)
	a.RaisedAt = time.Unix(0, raisedNs).UTC()
	a.ExpiresAt = time.Unix(0, expiresNs).UTC()
	return a, nil
}
