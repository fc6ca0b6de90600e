// Package postgres implements the dispatch store on PostgreSQL. Status
// transitions use conditional UPDATEs so the database enforces the
// compare-and-swap the assignment protocol depends on.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/coopertaxi/dispatchd/core/model"
	"github.com/coopertaxi/dispatchd/infra/logger"
)

// Config holds the database connection parameters.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

func (c *Config) SetDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
}

// DSN returns the connection string for lib/pq.
func (c Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// URL returns the migration-style connection URL.
func (c Config) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// Store implements store.Store on PostgreSQL.
type Store struct {
	db  *sql.DB
	log logger.Logger
}

// Connect opens the database and verifies the connection.
func Connect(cfg Config) (*Store, error) {
	cfg.SetDefaults()
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log := logger.New("postgres")
	log.Infof("database connected (%s:%d/%s)", cfg.Host, cfg.Port, cfg.DBName)
	return &Store{db: db, log: log}, nil
}

// NewStore wraps an existing connection, for tests.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, log: logger.NopLogger{}}
}

func (s *Store) Close() error { return s.db.Close() }

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

func (s *Store) CreateDriver(ctx context.Context, d *model.Driver) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drivers (id, name, phone, plate, location, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		d.ID, d.Name, d.Phone, d.Plate, d.Location, d.Active, d.CreatedAt, d.UpdatedAt)
	if isUniqueViolation(err) {
		return model.ErrDuplicateDriver
	}
	return err
}

const driverColumns = `id, name, phone, plate, location, active, created_at, updated_at`

func scanDriver(row interface{ Scan(...any) error }) (*model.Driver, error) {
	var d model.Driver
	err := row.Scan(&d.ID, &d.Name, &d.Phone, &d.Plate, &d.Location, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) DriverByPhone(ctx context.Context, phone string) (*model.Driver, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE phone = $1`, phone)
	return scanDriver(row)
}

func (s *Store) DriverByID(ctx context.Context, id string) (*model.Driver, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id)
	return scanDriver(row)
}

func (s *Store) ActiveDrivers(ctx context.Context, excludePhone string) ([]model.Driver, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+driverColumns+` FROM drivers
		WHERE active AND phone <> $1
		ORDER BY created_at`, excludePhone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *Store) SetDriverActive(ctx context.Context, phone string, active bool) error {
	return s.updateDriver(ctx, `UPDATE drivers SET active = $2, updated_at = now() WHERE phone = $1`, phone, active)
}

func (s *Store) SetDriverLocation(ctx context.Context, phone, location string) error {
	return s.updateDriver(ctx, `UPDATE drivers SET location = $2, updated_at = now() WHERE phone = $1`, phone, location)
}

func (s *Store) DeleteDriver(ctx context.Context, phone string) error {
	return s.updateDriver(ctx, `DELETE FROM drivers WHERE phone = $1`, phone)
}

func (s *Store) updateDriver(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) CountAssignedToDriver(ctx context.Context, driverID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM requests WHERE assigned_driver_id = $1 AND status = 'ASSIGNED'`, driverID).Scan(&n)
	return n, err
}

func (s *Store) DriverStats(ctx context.Context) (model.DriverStats, error) {
	var st model.DriverStats
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*), count(*) FILTER (WHERE active) FROM drivers`).Scan(&st.Total, &st.Active)
	if err != nil {
		return st, err
	}
	st.Inactive = st.Total - st.Active
	return st, nil
}

func (s *Store) CreateRequest(ctx context.Context, r *model.Request) error {
	var lat, lon sql.NullFloat64
	if r.Coordinates != nil {
		lat = sql.NullFloat64{Float64: r.Coordinates.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: r.Coordinates.Longitude, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (id, requester_phone, requester_name, location, sector, status,
			assigned_driver_id, latitude, longitude, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11)`,
		r.ID, r.RequesterPhone, r.RequesterName, r.Location, r.Sector, r.Status,
		r.AssignedDriverID, lat, lon, r.CreatedAt, r.UpdatedAt)
	return err
}

const requestColumns = `id, requester_phone, requester_name, location, sector, status,
	coalesce(assigned_driver_id, ''), latitude, longitude, created_at, updated_at`

func scanRequest(row interface{ Scan(...any) error }) (*model.Request, error) {
	var r model.Request
	var lat, lon sql.NullFloat64
	err := row.Scan(&r.ID, &r.RequesterPhone, &r.RequesterName, &r.Location, &r.Sector,
		&r.Status, &r.AssignedDriverID, &lat, &lon, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat.Valid && lon.Valid {
		r.Coordinates = &model.Coordinates{Latitude: lat.Float64, Longitude: lon.Float64}
	}
	return &r, nil
}

func (s *Store) RequestByID(ctx context.Context, id string) (*model.Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (s *Store) PendingRequestByRequester(ctx context.Context, phone string) (*model.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM requests
		WHERE requester_phone = $1 AND status = 'PENDING'
		ORDER BY created_at DESC LIMIT 1`, phone)
	return scanRequest(row)
}

func (s *Store) OldestPendingRequest(ctx context.Context) (*model.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM requests
		WHERE status = 'PENDING'
		ORDER BY created_at LIMIT 1`)
	return scanRequest(row)
}

func (s *Store) OldestAssignedToDriver(ctx context.Context, driverID string) (*model.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+` FROM requests
		WHERE assigned_driver_id = $1 AND status = 'ASSIGNED'
		ORDER BY created_at LIMIT 1`, driverID)
	return scanRequest(row)
}

// AssignRequest swaps PENDING to ASSIGNED for the given driver. The WHERE
// clause on status makes the swap atomic: concurrent accepts race on the
// same row and exactly one UPDATE matches.
func (s *Store) AssignRequest(ctx context.Context, requestID, driverID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = 'ASSIGNED', assigned_driver_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'`, requestID, driverID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) TransitionRequest(ctx context.Context, requestID string, from, to model.RequestStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, model.ErrInvalidTransition
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, requestID, string(from), string(to))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) CancelStalePending(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE requests SET status = 'CANCELLED', updated_at = now()
		WHERE status = 'PENDING' AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) RequestStats(ctx context.Context) (model.RequestStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM requests GROUP BY status`)
	if err != nil {
		return model.RequestStats{}, err
	}
	defer rows.Close()

	var st model.RequestStats
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return st, err
		}
		st.Total += n
		switch model.RequestStatus(status) {
		case model.StatusPending:
			st.Pending = n
		case model.StatusAssigned:
			st.Assigned = n
		case model.StatusCompleted:
			st.Completed = n
		case model.StatusCancelled:
			st.Cancelled = n
		}
	}
	return st, rows.Err()
}
