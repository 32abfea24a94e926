package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/alshuail/portal-access/pkg/storage"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS audit_events (
		id BIGSERIAL PRIMARY KEY,
		timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		status VARCHAR(20) NOT NULL,
		actor_id VARCHAR(64),
		target_id VARCHAR(64),
		resource_type VARCHAR(50),
		resource_id VARCHAR(255),
		ip_address VARCHAR(45),
		user_agent TEXT,
		request_id VARCHAR(100),
		method VARCHAR(10),
		path TEXT,
		status_code INTEGER,
		message TEXT,
		error_message TEXT,
		metadata JSONB,
		changes JSONB
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_audit_events_actor ON audit_events(actor_id);
	CREATE INDEX IF NOT EXISTS idx_audit_events_target ON audit_events(target_id);
`

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TIMESTAMP NOT NULL,
		event_type TEXT NOT NULL,
		status TEXT NOT NULL,
		actor_id TEXT,
		target_id TEXT,
		resource_type TEXT,
		resource_id TEXT,
		ip_address TEXT,
		user_agent TEXT,
		request_id TEXT,
		method TEXT,
		path TEXT,
		status_code INTEGER,
		message TEXT,
		error_message TEXT,
		metadata TEXT,
		changes TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_events_target ON audit_events(target_id);
`

const eventColumns = `id, timestamp, event_type, status, actor_id, target_id, resource_type, resource_id,
	ip_address, user_agent, request_id, method, path, status_code, message, error_message, metadata, changes`

// DBLogger writes audit events to the audit_events table and serves queries over it
type DBLogger struct {
	db      *sql.DB
	dialect storage.Dialect
}

// NewDBLogger creates a database-backed audit logger and ensures its table exists
func NewDBLogger(ctx context.Context, db *sql.DB, dialect storage.Dialect) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{db: db, dialect: dialect}
	if err := logger.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure audit_events table: %w", err)
	}
	return logger, nil
}

func (l *DBLogger) ensureTable(ctx context.Context) error {
	schema := postgresSchema
	if l.dialect == storage.DialectSQLite {
		schema = sqliteSchema
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Log inserts the event and sets its ID
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	metadata, err := jsonColumn(event.Metadata, len(event.Metadata) > 0)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	changes, err := jsonColumn(event.Changes, event.Changes != nil)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	query := `
		INSERT INTO audit_events (
			timestamp, event_type, status, actor_id, target_id,
			resource_type, resource_id, ip_address, user_agent, request_id,
			method, path, status_code, message, error_message, metadata, changes
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17
		)`
	args := []interface{}{
		event.Timestamp.UTC(), string(event.EventType), string(event.Status),
		nullString(event.ActorID), nullString(event.TargetID),
		nullString(string(event.ResourceType)), nullString(event.ResourceID),
		nullString(event.IPAddress), nullString(event.UserAgent), nullString(event.RequestID),
		nullString(event.Method), nullString(event.Path), event.StatusCode,
		nullString(event.Message), nullString(event.ErrorMessage), metadata, changes,
	}

	if l.dialect == storage.DialectPostgres {
		if err := l.db.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&event.ID); err != nil {
			return fmt.Errorf("failed to insert audit event: %w", err)
		}
		return nil
	}

	result, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	if event.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read audit event id: %w", err)
	}
	return nil
}

// Search returns events matching filter, newest first unless filter.Ascending is set
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	where, args := l.whereClause(filter)
	query := "SELECT " + eventColumns + " FROM audit_events " + where

	if filter.Ascending {
		query += " ORDER BY timestamp ASC, id ASC"
	} else {
		query += " ORDER BY timestamp DESC, id DESC"
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += fmt.Sprintf(" OFFSET $%d", len(args))
		}
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := make([]*Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}

// Get returns a single event or ErrEventNotFound
func (l *DBLogger) Get(ctx context.Context, id int64) (*Event, error) {
	row := l.db.QueryRowContext(ctx, "SELECT "+eventColumns+" FROM audit_events WHERE id = $1", id)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrEventNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// Stats aggregates events in [start, end). Either bound may be nil.
func (l *DBLogger) Stats(ctx context.Context, start, end *time.Time) (*Stats, error) {
	stats := &Stats{
		EventsByType:   make(map[EventType]int64),
		EventsByStatus: make(map[EventStatus]int64),
	}
	if start != nil && end != nil {
		stats.TimeRange = &TimeRange{Start: *start, End: *end}
	}

	where, args := l.whereClause(SearchFilter{StartTime: start, EndTime: end})

	err := l.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(DISTINCT actor_id) FROM audit_events "+where, args...,
	).Scan(&stats.TotalEvents, &stats.UniqueActors)
	if err != nil {
		return nil, fmt.Errorf("failed to count audit events: %w", err)
	}

	if err := l.groupCount(ctx, "event_type", where, args, func(key string, n int64) {
		stats.EventsByType[EventType(key)] = n
	}); err != nil {
		return nil, err
	}
	if err := l.groupCount(ctx, "status", where, args, func(key string, n int64) {
		stats.EventsByStatus[EventStatus(key)] = n
	}); err != nil {
		return nil, err
	}
	stats.AccessDenials = stats.EventsByType[EventTypeAccessDenied]
	return stats, nil
}

func (l *DBLogger) groupCount(ctx context.Context, column, where string, args []interface{}, fn func(string, int64)) error {
	rows, err := l.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s, COUNT(*) FROM audit_events %s GROUP BY %s", column, where, column), args...)
	if err != nil {
		return fmt.Errorf("failed to group audit events by %s: %w", column, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("failed to scan %s count: %w", column, err)
		}
		fn(key, n)
	}
	return rows.Err()
}

// DeleteBefore removes events older than cutoff and returns how many were removed
func (l *DBLogger) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := l.db.ExecContext(ctx, "DELETE FROM audit_events WHERE timestamp < $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete audit events: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op; the database connection is shared
func (l *DBLogger) Close() error {
	return nil
}

func (l *DBLogger) whereClause(filter SearchFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.StartTime != nil {
		add("timestamp >= $%d", filter.StartTime.UTC())
	}
	if filter.EndTime != nil {
		add("timestamp < $%d", filter.EndTime.UTC())
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.TargetID != "" {
		add("target_id = $%d", filter.TargetID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.ResourceType != "" {
		add("resource_type = $%d", string(filter.ResourceType))
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if len(filter.EventTypes) > 0 {
		types := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			types[i] = string(t)
		}
		if l.dialect == storage.DialectPostgres {
			add("event_type = ANY($%d)", pq.Array(types))
		} else {
			placeholders := storage.Placeholders(len(args)+1, len(types))
			for _, t := range types {
				args = append(args, t)
			}
			conds = append(conds, "event_type IN ("+placeholders+")")
		}
	}

	if len(conds) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var eventType, status string
	var actorID, targetID, resourceType, resourceID sql.NullString
	var ip, ua, requestID, method, path, message, errMsg sql.NullString
	var statusCode sql.NullInt64
	var metadata, changes sql.NullString

	err := row.Scan(
		&e.ID, &e.Timestamp, &eventType, &status, &actorID, &targetID,
		&resourceType, &resourceID, &ip, &ua, &requestID, &method, &path,
		&statusCode, &message, &errMsg, &metadata, &changes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan audit event: %w", err)
	}

	e.EventType = EventType(eventType)
	e.Status = EventStatus(status)
	e.ActorID = actorID.String
	e.TargetID = targetID.String
	e.ResourceType = ResourceType(resourceType.String)
	e.ResourceID = resourceID.String
	e.IPAddress = ip.String
	e.UserAgent = ua.String
	e.RequestID = requestID.String
	e.Method = method.String
	e.Path = path.String
	e.StatusCode = int(statusCode.Int64)
	e.Message = message.String
	e.ErrorMessage = errMsg.String

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if changes.Valid && changes.String != "" {
		e.Changes = &ChangeDetails{}
		if err := json.Unmarshal([]byte(changes.String), e.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}
	}
	return &e, nil
}

// jsonColumn marshals v into a nullable text value. JSONB accepts text input.
func jsonColumn(v interface{}, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
