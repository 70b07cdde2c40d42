// Package audit keeps the per-tenant history of registry changes in the
// audit_logs table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// ErrTenantRequired is returned for an event or filter without a tenant.
var ErrTenantRequired = errors.New("audit: tenant is required")

// Event is one recorded change.
type Event struct {
	ID         string         `json:"id"`
	Tenant     string         `json:"tenant"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id,omitempty"`
	Source     string         `json:"source"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter selects events for List. Only Tenant is required; empty fields
// match anything.
type Filter struct {
	Tenant     string
	Action     string // create, update, remove, configure, template.update
	EntityType string // device or template
	EntityID   string
	Limit      int // defaults to 50, capped at 200
	Offset     int
}

// ListResult is one page of events. Total counts every match.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository records and lists events.
type Repository interface {
	Create(ctx context.Context, ev *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository is the Repository over the registry database.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a repository using db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create stores ev, filling in ID ("evt-" plus 8 hex chars) and CreatedAt
// when they are empty.
func (r *SQLiteRepository) Create(ctx context.Context, ev *Event) error {
	if ev.Tenant == "" {
		return ErrTenantRequired
	}
	if ev.ID == "" {
		ev.ID = "evt-" + uuid.NewString()[:8]
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	details := sql.NullString{}
	if ev.Details != nil {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("encoding event details: %w", err)
		}
		details = sql.NullString{String: string(b), Valid: true}
	}
	entityID := sql.NullString{String: ev.EntityID, Valid: ev.EntityID != ""}

	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, tenant, action, entity_type, entity_id, source, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Tenant, ev.Action, ev.EntityType, entityID, ev.Source, details,
		ev.CreatedAt.Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

// conditions accumulates an AND-ed WHERE clause with its arguments.
type conditions struct {
	clauses []string
	args    []any
}

// eq adds column = value unless value is empty.
func (c *conditions) eq(column, value string) {
	if value == "" {
		return
	}
	c.clauses = append(c.clauses, column+" = ?")
	c.args = append(c.args, value)
}

func (c *conditions) sql() string { return " WHERE " + strings.Join(c.clauses, " AND ") }

func (f *Filter) normalise() {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultLimit
	case f.Limit > maxLimit:
		f.Limit = maxLimit
	}
	f.Offset = max(f.Offset, 0)
}

// List returns matching events of filter.Tenant, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Tenant == "" {
		return nil, ErrTenantRequired
	}
	filter.normalise()

	var where conditions
	where.eq("tenant", filter.Tenant)
	where.eq("action", filter.Action)
	where.eq("entity_type", filter.EntityType)
	where.eq("entity_id", filter.EntityID)

	res := &ListResult{Events: []Event{}, Limit: filter.Limit, Offset: filter.Offset}
	//nolint:gosec // clauses are fixed column names, values are bound
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where.sql(), where.args...).Scan(&res.Total); err != nil {
		return nil, fmt.Errorf("counting audit events: %w", err)
	}

	//nolint:gosec // as above
	query := `SELECT id, tenant, action, entity_type, entity_id, source, details, created_at FROM audit_logs` +
		where.sql() + ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(where.args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		res.Events = append(res.Events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit events: %w", err)
	}
	return res, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var (
		ev                Event
		entityID, details sql.NullString
		createdAt         string
	)
	if err := rows.Scan(&ev.ID, &ev.Tenant, &ev.Action, &ev.EntityType,
		&entityID, &ev.Source, &details, &createdAt); err != nil {
		return Event{}, fmt.Errorf("scanning audit event: %w", err)
	}
	ev.EntityID = entityID.String

	// Undecodable details are dropped rather than failing the page.
	if details.String != "" {
		var m map[string]any
		if json.Unmarshal([]byte(details.String), &m) == nil {
			ev.Details = m
		}
	}

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Event{}, fmt.Errorf("parsing audit event timestamp %q: %w", createdAt, err)
	}
	ev.CreatedAt = t
	return ev, nil
}
