// internal/store/store.go
// SQLite storage for scan records and probe results

package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/aspnmy/svcprobe/internal/models"
)

// ScanStatus is the lifecycle state of a stored scan
type ScanStatus string

const (
	StatusRunning     ScanStatus = "running"
	StatusCompleted   ScanStatus = "completed"
	StatusInterrupted ScanStatus = "interrupted"
	StatusFailed      ScanStatus = "failed"
)

// ErrScanNotFound is returned for unknown scan IDs
var ErrScanNotFound = errors.New("scan not found")

// ScanInfo represents scan metadata
type ScanInfo struct {
	ScanID     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Status     ScanStatus
	Targets    string
	TotalUnits int64
	OpenCount  int64
	Config     map[string]interface{}
}

// Store handles persistence of scans and their results
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at dbPath
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open result database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA cache_size=-10000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS scans (
		scan_id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		targets TEXT,
		total_units INTEGER DEFAULT 0,
		open_count INTEGER DEFAULT 0,
		config_json TEXT
	);

	CREATE TABLE IF NOT EXISTS results (
		result_id INTEGER PRIMARY KEY AUTOINCREMENT,
		scan_id TEXT NOT NULL,
		host TEXT NOT NULL,
		port INTEGER NOT NULL,
		status TEXT NOT NULL,
		banner TEXT,
		latency_us INTEGER DEFAULT 0,
		probed_at DATETIME,
		error TEXT,
		FOREIGN KEY (scan_id) REFERENCES scans(scan_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_results_scan_id ON results(scan_id);
	CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

// NewScanID returns "scan_" followed by eight hex characters
func NewScanID() string {
	return fmt.Sprintf("scan_%s", uuid.New().String()[:8])
}

// CreateScan inserts a running scan record and returns its ID
func (s *Store) CreateScan(targets string, totalUnits int64, config map[string]interface{}) (string, error) {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	scanID := NewScanID()
	now := time.Now().UTC()
	_, err = s.db.Exec(
		`INSERT INTO scans (scan_id, created_at, updated_at, status, targets, total_units, config_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		scanID, now, now, string(StatusRunning), targets, totalUnits, string(configJSON),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create scan: %w", err)
	}
	return scanID, nil
}

// SaveResults appends results to a scan in one transaction
func (s *Store) SaveResults(scanID string, results []models.ProbeResult) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT INTO results (scan_id, host, port, status, banner, latency_us, probed_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		_, err := stmt.Exec(scanID, r.IP.String(), r.Port, string(r.Status), r.Banner,
			r.Latency.Microseconds(), r.Timestamp.UTC(), r.Error)
		if err != nil {
			return fmt.Errorf("failed to insert result %s: %w", r.Target(), err)
		}
	}

	if _, err := tx.Exec(`UPDATE scans SET updated_at = ? WHERE scan_id = ?`, time.Now().UTC(), scanID); err != nil {
		return err
	}
	return tx.Commit()
}

// FinishScan records the final status and open port count
func (s *Store) FinishScan(scanID string, status ScanStatus, openCount int) error {
	res, err := s.db.Exec(
		`UPDATE scans SET status = ?, open_count = ?, updated_at = ? WHERE scan_id = ?`,
		string(status), openCount, time.Now().UTC(), scanID,
	)
	if err != nil {
		return err
	}
	return requireRow(res, scanID)
}

// GetScan retrieves scan information
func (s *Store) GetScan(scanID string) (*ScanInfo, error) {
	var info ScanInfo
	var configJSON sql.NullString
	var targets sql.NullString

	err := s.db.QueryRow(
		`SELECT scan_id, created_at, updated_at, status, targets, total_units, open_count, config_json
		 FROM scans WHERE scan_id = ?`,
		scanID,
	).Scan(&info.ScanID, &info.CreatedAt, &info.UpdatedAt, &info.Status, &targets,
		&info.TotalUnits, &info.OpenCount, &configJSON)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}
	if err != nil {
		return nil, err
	}

	info.Targets = targets.String
	if configJSON.Valid && configJSON.String != "" {
		if err := json.Unmarshal([]byte(configJSON.String), &info.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	return &info, nil
}

// ListScans lists scans, newest first, optionally filtered by status
func (s *Store) ListScans(status ScanStatus) ([]ScanInfo, error) {
	query := `SELECT scan_id, created_at, updated_at, status, targets, total_units, open_count
			  FROM scans`
	var args []interface{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []ScanInfo
	for rows.Next() {
		var info ScanInfo
		var targets sql.NullString
		if err := rows.Scan(&info.ScanID, &info.CreatedAt, &info.UpdatedAt, &info.Status, &targets,
			&info.TotalUnits, &info.OpenCount); err != nil {
			return nil, err
		}
		info.Targets = targets.String
		scans = append(scans, info)
	}
	return scans, rows.Err()
}

// GetResults returns the stored results of a scan, sorted by host then port
func (s *Store) GetResults(scanID string) ([]models.ProbeResult, error) {
	if _, err := s.GetScan(scanID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT host, port, status, banner, latency_us, probed_at, error
		 FROM results WHERE scan_id = ?`,
		scanID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.ProbeResult
	for rows.Next() {
		var (
			host      string
			r         models.ProbeResult
			banner    sql.NullString
			errText   sql.NullString
			latencyUs int64
			probedAt  sql.NullTime
		)
		if err := rows.Scan(&host, &r.Port, &r.Status, &banner, &latencyUs, &probedAt, &errText); err != nil {
			return nil, err
		}
		ip, err := netip.ParseAddr(host)
		if err != nil {
			return nil, fmt.Errorf("corrupt host %q in scan %s: %w", host, scanID, err)
		}
		r.IP = ip
		r.Banner = banner.String
		r.Error = errText.String
		r.Latency = time.Duration(latencyUs) * time.Microsecond
		r.Timestamp = probedAt.Time
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	models.SortResults(results)
	return results, nil
}

// DeleteScan deletes a scan and all its results
func (s *Store) DeleteScan(scanID string) error {
	res, err := s.db.Exec(`DELETE FROM scans WHERE scan_id = ?`, scanID)
	if err != nil {
		return err
	}
	return requireRow(res, scanID)
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func requireRow(res sql.Result, scanID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrScanNotFound, scanID)
	}
	return nil
}
