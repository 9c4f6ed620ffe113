package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ebalodis/faceframe/internal/detect"
)

// Store persists published DetectionSets to SQLite
type Store struct {
	db     *sql.DB
	dbPath string
}

// SetRecord is one stored DetectionSet row
type SetRecord struct {
	ID          string             `json:"id"`
	SensorID    string             `json:"sensor_id"`
	Seq         uint64             `json:"seq"`
	Facing      string             `json:"facing"`
	ImageWidth  int                `json:"image_width"`
	ImageHeight int                `json:"image_height"`
	FaceCount   int                `json:"face_count"`
	LatencyMS   int64              `json:"latency_ms"`
	Detections  []detect.Detection `json:"detections"`
	Timestamp   time.Time          `json:"timestamp"`
}

// ListOptions contains filters for listing stored sets
type ListOptions struct {
	SensorID string
	Since    time.Time
	Until    time.Time
	MinFaces int
	Limit    int
	Offset   int
}

// NewStore opens or creates the detection database
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support concurrent writes well
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.dbPath
}

// Ping verifies the database connection is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// initSchema initializes the database schema
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS detection_sets (
		id TEXT PRIMARY KEY,
		sensor_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		facing TEXT NOT NULL,
		image_width INTEGER NOT NULL,
		image_height INTEGER NOT NULL,
		face_count INTEGER NOT NULL,
		latency_ms INTEGER NOT NULL,
		detections TEXT NOT NULL, -- JSON detection list
		timestamp TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_detection_sets_sensor_timestamp ON detection_sets(sensor_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_detection_sets_timestamp ON detection_sets(timestamp);
	CREATE INDEX IF NOT EXISTS idx_detection_sets_face_count ON detection_sets(face_count);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// SaveSet stores one published DetectionSet
func (s *Store) SaveSet(ctx context.Context, set *detect.DetectionSet) (string, error) {
	detectionsJSON, err := json.Marshal(set.Detections)
	if err != nil {
		return "", fmt.Errorf("failed to marshal detections: %w", err)
	}

	id := uuid.New().String()
	query := `
		INSERT INTO detection_sets (id, sensor_id, seq, facing, image_width, image_height, face_count, latency_ms, detections, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		id, set.SensorID, set.Seq, string(set.Facing), set.ImageWidth, set.ImageHeight,
		len(set.Detections), set.Latency.Milliseconds(), string(detectionsJSON), set.Timestamp,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save detection set: %w", err)
	}

	return id, nil
}

// GetSet retrieves a single stored set by ID. Returns nil when the ID
// is unknown.
func (s *Store) GetSet(ctx context.Context, id string) (*SetRecord, error) {
	query := `
		SELECT id, sensor_id, seq, facing, image_width, image_height, face_count, latency_ms, detections, timestamp
		FROM detection_sets
		WHERE id = ?
	`

	var rec SetRecord
	var detectionsJSON string
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.SensorID, &rec.Seq, &rec.Facing, &rec.ImageWidth, &rec.ImageHeight,
		&rec.FaceCount, &rec.LatencyMS, &detectionsJSON, &rec.Timestamp,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get detection set: %w", err)
	}

	if err := json.Unmarshal([]byte(detectionsJSON), &rec.Detections); err != nil {
		rec.Detections = nil
	}

	return &rec, nil
}

// ListSets retrieves stored sets with filtering and pagination, newest
// first. Returns the page and the total count matching the filters.
func (s *Store) ListSets(ctx context.Context, opts ListOptions) ([]SetRecord, int, error) {
	whereClauses := []string{}
	args := []interface{}{}

	if opts.SensorID != "" {
		whereClauses = append(whereClauses, "sensor_id = ?")
		args = append(args, opts.SensorID)
	}
	if !opts.Since.IsZero() {
		whereClauses = append(whereClauses, "timestamp >= ?")
		args = append(args, opts.Since)
	}
	if !opts.Until.IsZero() {
		whereClauses = append(whereClauses, "timestamp <= ?")
		args = append(args, opts.Until)
	}
	if opts.MinFaces > 0 {
		whereClauses = append(whereClauses, "face_count >= ?")
		args = append(args, opts.MinFaces)
	}

	whereClause := ""
	if len(whereClauses) > 0 {
		whereClause = "WHERE " + strings.Join(whereClauses, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM detection_sets %s", whereClause)
	var totalCount int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&totalCount); err != nil {
		return nil, 0, fmt.Errorf("failed to count detection sets: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, sensor_id, seq, facing, image_width, image_height, face_count, latency_ms, detections, timestamp
		FROM detection_sets
		%s
		ORDER BY timestamp DESC, seq DESC
		LIMIT ? OFFSET ?
	`, whereClause)

	args = append(args, limit, opts.Offset)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list detection sets: %w", err)
	}
	defer rows.Close()

	var records []SetRecord
	for rows.Next() {
		var rec SetRecord
		var detectionsJSON string
		if err := rows.Scan(
			&rec.ID, &rec.SensorID, &rec.Seq, &rec.Facing, &rec.ImageWidth, &rec.ImageHeight,
			&rec.FaceCount, &rec.LatencyMS, &detectionsJSON, &rec.Timestamp,
		); err != nil {
			return nil, 0, err
		}

		if err := json.Unmarshal([]byte(detectionsJSON), &rec.Detections); err != nil {
			rec.Detections = nil
		}

		records = append(records, rec)
	}

	return records, totalCount, rows.Err()
}

// Prune removes sets older than the cutoff and returns how many rows
// were deleted
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := s.db.ExecContext(ctx, `DELETE FROM detection_sets WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune detection sets: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	return rowsAffected, nil
}
