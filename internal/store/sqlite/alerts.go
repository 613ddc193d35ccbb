package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/rail-geofence/model"
)

const alertColumns = `id, kind, train_number, train_name, timestamp_ns, resolved, ` +
	`station_code, station_name, object_id, object_type, owner_id, coach_id, distance_km`

// CreateAlert stores an alert, assigning an ID when empty. The partial unique
// index rejects a second unresolved alert for the same natural key, reported
// as model.ErrAlertExists.
func (s *Store) CreateAlert(ctx context.Context, a *model.Alert) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	var stationCode, stationName, objectID, objectType, ownerID, coachID string
	switch d := a.Detail.(type) {
	case *model.StationProximity:
		stationCode, stationName = d.StationCode, d.StationName
	case *model.Theft:
		objectID, objectType, ownerID, coachID = d.ObjectID, d.ObjectType, d.OwnerID, d.CoachID
	}

	key := a.Key()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`, natural_key) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(key.Kind), a.TrainNumber, a.TrainName, a.Timestamp.UnixNano(), boolToInt(a.Resolved),
		stationCode, stationName, objectID, objectType, ownerID, coachID, a.DistanceKm(), key.Value)
	if isUniqueViolation(err) {
		return fmt.Errorf("alert %s: %w", key, model.ErrAlertExists)
	}
	if err != nil {
		return fmt.Errorf("insert alert %q: %w", a.ID, err)
	}
	return nil
}

// GetAlert returns the alert with the given ID.
func (s *Store) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	return getAlert(ctx, s.db, id)
}

func getAlert(ctx context.Context, q querier, id string) (*model.Alert, error) {
	a, err := scanAlert(q.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert with ID %q: %w", id, model.ErrAlertNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select alert %q: %w", id, err)
	}
	return a, nil
}

// FindUnresolvedAlert returns the unresolved alert for key, or nil.
func (s *Store) FindUnresolvedAlert(ctx context.Context, key model.AlertKey) (*model.Alert, error) {
	a, err := scanAlert(s.db.QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE kind = ? AND natural_key = ? AND resolved = 0`,
		string(key.Kind), key.Value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find unresolved alert %s: %w", key, err)
	}
	return a, nil
}

// ResolveAlerts marks every unresolved alert for key as resolved.
func (s *Store) ResolveAlerts(ctx context.Context, key model.AlertKey) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET resolved = 1 WHERE kind = ? AND natural_key = ? AND resolved = 0`,
		string(key.Kind), key.Value)
	if err != nil {
		return 0, fmt.Errorf("resolve alerts %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// ResolveAlert marks a single alert resolved. Resolving an already resolved
// alert is a no-op that returns the alert unchanged.
func (s *Store) ResolveAlert(ctx context.Context, id string) (*model.Alert, error) {
	var out *model.Alert
	err := s.Transaction(ctx, func(tx *sql.Tx) error {
		a, err := getAlert(ctx, tx, id)
		if err != nil {
			return err
		}
		if !a.Resolved {
			if _, err := tx.ExecContext(ctx, `UPDATE alerts SET resolved = 1 WHERE id = ?`, id); err != nil {
				return fmt.Errorf("resolve alert %q: %w", id, err)
			}
			a.Resolved = true
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteAlert removes an alert.
func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete alert %q: %w", id, err)
	}
	return requireAffected(res, fmt.Errorf("alert with ID %q: %w", id, model.ErrAlertNotFound))
}

// ListAlerts returns alerts matching filter, newest first.
func (s *Store) ListAlerts(ctx context.Context, filter model.AlertFilter) ([]*model.Alert, error) {
	query, args := buildAlertQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	res := make([]*model.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func buildAlertQuery(f model.AlertFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Resolved != nil {
		where = append(where, "resolved = ?")
		args = append(args, boolToInt(*f.Resolved))
	}
	if f.TrainNumber != "" {
		where = append(where, "train_number = ?")
		args = append(args, f.TrainNumber)
	}
	if f.ObjectID != "" {
		where = append(where, "kind = 'theft' AND object_id = ?")
		args = append(args, f.ObjectID)
	}
	if f.StationCode != "" {
		where = append(where, "kind = 'station_proximity' AND station_code = ?")
		args = append(args, f.StationCode)
	}
	if !f.Since.IsZero() {
		where = append(where, "timestamp_ns >= ?")
		args = append(args, f.Since.UnixNano())
	}

	var b strings.Builder
	b.WriteString(`SELECT ` + alertColumns + ` FROM alerts`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY timestamp_ns DESC, id")
	if f.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}
	return b.String(), args
}

func scanAlert(row rowScanner) (*model.Alert, error) {
	var (
		a        model.Alert
		kind     string
		tsNanos  int64
		resolved int
		distance float64
	)
	var stationCode, stationName, objectID, objectType, ownerID, coachID string
	if err := row.Scan(&a.ID, &kind, &a.TrainNumber, &a.TrainName, &tsNanos, &resolved,
		&stationCode, &stationName, &objectID, &objectType, &ownerID, &coachID, &distance); err != nil {
		return nil, err
	}
	a.Timestamp = time.Unix(0, tsNanos).UTC()
	a.Resolved = resolved != 0

	switch model.AlertKind(kind) {
	case model.AlertStationProximity:
		a.Detail = &model.StationProximity{StationCode: stationCode, StationName: stationName, DistanceKm: distance}
	case model.AlertTheft:
		a.Detail = &model.Theft{ObjectID: objectID, ObjectType: objectType, OwnerID: ownerID, CoachID: coachID, DistanceKm: distance}
	default:
		return nil, fmt.Errorf("alert %q has unknown kind %q", a.ID, kind)
	}
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
