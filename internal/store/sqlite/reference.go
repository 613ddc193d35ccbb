package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/signalsfoundry/rail-geofence/model"
)

// ---- Stations ----

// CreateStation adds a station.
func (s *Store) CreateStation(ctx context.Context, st *model.Station) error {
	if err := st.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stations (code, name, longitude, latitude) VALUES (?, ?, ?, ?)`,
		st.Code, st.Name, st.Position.Longitude, st.Position.Latitude)
	if isUniqueViolation(err) {
		return fmt.Errorf("station with code %q: %w", st.Code, model.ErrStationExists)
	}
	if err != nil {
		return fmt.Errorf("insert station %q: %w", st.Code, err)
	}
	return nil
}

// GetStation returns the station with the given code.
func (s *Store) GetStation(ctx context.Context, code string) (*model.Station, error) {
	st := &model.Station{}
	err := s.db.QueryRowContext(ctx,
		`SELECT code, name, longitude, latitude FROM stations WHERE code = ?`, code).
		Scan(&st.Code, &st.Name, &st.Position.Longitude, &st.Position.Latitude)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("station with code %q: %w", code, model.ErrStationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select station %q: %w", code, err)
	}
	return st, nil
}

// ListStations returns all stations ordered by code.
func (s *Store) ListStations(ctx context.Context) ([]*model.Station, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT code, name, longitude, latitude FROM stations ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}
	defer rows.Close()

	res := make([]*model.Station, 0)
	for rows.Next() {
		st := &model.Station{}
		if err := rows.Scan(&st.Code, &st.Name, &st.Position.Longitude, &st.Position.Latitude); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		res = append(res, st)
	}
	return res, rows.Err()
}

// DeleteStation removes a station. Alerts that reference it are kept.
func (s *Store) DeleteStation(ctx context.Context, code string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stations WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("delete station %q: %w", code, err)
	}
	return requireAffected(res, fmt.Errorf("station with code %q: %w", code, model.ErrStationNotFound))
}

// ---- Trains ----

const trainColumns = `number, name, longitude, latitude, speed_kmh, direction, coaches`

// CreateTrain adds a train with its coaches.
func (s *Store) CreateTrain(ctx context.Context, t *model.Train) error {
	if err := t.Validate(); err != nil {
		return err
	}
	coaches, err := encodeCoaches(t.Coaches)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO trains (`+trainColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Number, t.Name, t.Position.Longitude, t.Position.Latitude, t.SpeedKmh, t.Direction, coaches)
	if isUniqueViolation(err) {
		return fmt.Errorf("train with number %q: %w", t.Number, model.ErrTrainExists)
	}
	if err != nil {
		return fmt.Errorf("insert train %q: %w", t.Number, err)
	}
	return nil
}

// GetTrain returns the train with the given number.
func (s *Store) GetTrain(ctx context.Context, number string) (*model.Train, error) {
	return getTrain(ctx, s.db, number)
}

func getTrain(ctx context.Context, q querier, number string) (*model.Train, error) {
	t, err := scanTrain(q.QueryRowContext(ctx, `SELECT `+trainColumns+` FROM trains WHERE number = ?`, number))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("train with number %q: %w", number, model.ErrTrainNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select train %q: %w", number, err)
	}
	return t, nil
}

// ListTrains returns all trains ordered by number.
func (s *Store) ListTrains(ctx context.Context) ([]*model.Train, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+trainColumns+` FROM trains ORDER BY number`)
	if err != nil {
		return nil, fmt.Errorf("list trains: %w", err)
	}
	defer rows.Close()

	res := make([]*model.Train, 0)
	for rows.Next() {
		t, err := scanTrain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan train: %w", err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// ReplaceTrain overwrites name, speed, heading and coaches. The position is
// kept.
func (s *Store) ReplaceTrain(ctx context.Context, t *model.Train) error {
	if err := t.Validate(); err != nil {
		return err
	}
	coaches, err := encodeCoaches(t.Coaches)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE trains SET name = ?, speed_kmh = ?, direction = ?, coaches = ? WHERE number = ?`,
		t.Name, t.SpeedKmh, t.Direction, coaches, t.Number)
	if err != nil {
		return fmt.Errorf("update train %q: %w", t.Number, err)
	}
	return requireAffected(res, fmt.Errorf("train with number %q: %w", t.Number, model.ErrTrainNotFound))
}

// DeleteTrain removes a train. Objects registered to it become dangling.
func (s *Store) DeleteTrain(ctx context.Context, number string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM trains WHERE number = ?`, number)
	if err != nil {
		return fmt.Errorf("delete train %q: %w", number, err)
	}
	return requireAffected(res, fmt.Errorf("train with number %q: %w", number, model.ErrTrainNotFound))
}

// UpdateTrainPosition moves a train and sets its heading.
func (s *Store) UpdateTrainPosition(ctx context.Context, number string, pos model.Coordinate, direction float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trains SET longitude = ?, latitude = ?, direction = ? WHERE number = ?`,
		pos.Longitude, pos.Latitude, direction, number)
	if err != nil {
		return fmt.Errorf("move train %q: %w", number, err)
	}
	return requireAffected(res, fmt.Errorf("train with number %q: %w", number, model.ErrTrainNotFound))
}

// UpdateTrainMotion sets a train's speed and heading.
func (s *Store) UpdateTrainMotion(ctx context.Context, number string, speedKmh, direction float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trains SET speed_kmh = ?, direction = ? WHERE number = ?`,
		speedKmh, direction, number)
	if err != nil {
		return fmt.Errorf("update train motion %q: %w", number, err)
	}
	return requireAffected(res, fmt.Errorf("train with number %q: %w", number, model.ErrTrainNotFound))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrain(row rowScanner) (*model.Train, error) {
	t := &model.Train{}
	var coaches string
	if err := row.Scan(&t.Number, &t.Name, &t.Position.Longitude, &t.Position.Latitude, &t.SpeedKmh, &t.Direction, &coaches); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(coaches), &t.Coaches); err != nil {
		return nil, fmt.Errorf("decode coaches of train %q: %w", t.Number, err)
	}
	return t, nil
}

func encodeCoaches(coaches []model.Coach) (string, error) {
	if coaches == nil {
		coaches = []model.Coach{}
	}
	data, err := json.Marshal(coaches)
	if err != nil {
		return "", fmt.Errorf("encode coaches: %w", err)
	}
	return string(data), nil
}

// ---- Objects ----

const objectColumns = `id, type, owner_id, train_number, coach_id, longitude, latitude`

// CreateObject adds a tracked object after checking that its train and coach
// exist.
func (s *Store) CreateObject(ctx context.Context, o *model.TrackedObject) error {
	if err := o.Validate(); err != nil {
		return err
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if err := checkCoach(ctx, tx, o.TrainNumber, o.CoachID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO tracked_objects (`+objectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.Type, o.OwnerID, o.TrainNumber, o.CoachID, o.Position.Longitude, o.Position.Latitude)
		if isUniqueViolation(err) {
			return fmt.Errorf("object with ID %q: %w", o.ID, model.ErrObjectExists)
		}
		if err != nil {
			return fmt.Errorf("insert object %q: %w", o.ID, err)
		}
		return nil
	})
}

// ReplaceObject overwrites an existing object after checking its train and
// coach references.
func (s *Store) ReplaceObject(ctx context.Context, o *model.TrackedObject) error {
	if err := o.Validate(); err != nil {
		return err
	}
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if err := checkCoach(ctx, tx, o.TrainNumber, o.CoachID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE tracked_objects SET type = ?, owner_id = ?, train_number = ?, coach_id = ?, longitude = ?, latitude = ? WHERE id = ?`,
			o.Type, o.OwnerID, o.TrainNumber, o.CoachID, o.Position.Longitude, o.Position.Latitude, o.ID)
		if err != nil {
			return fmt.Errorf("update object %q: %w", o.ID, err)
		}
		return requireAffected(res, fmt.Errorf("object with ID %q: %w", o.ID, model.ErrObjectNotFound))
	})
}

func checkCoach(ctx context.Context, q querier, trainNumber, coachID string) error {
	t, err := getTrain(ctx, q, trainNumber)
	if err != nil {
		return err
	}
	if _, ok := t.Coach(coachID); !ok {
		return fmt.Errorf("coach %q on train %q: %w", coachID, trainNumber, model.ErrCoachNotFound)
	}
	return nil
}

// GetObject returns the object with the given ID.
func (s *Store) GetObject(ctx context.Context, id string) (*model.TrackedObject, error) {
	o, err := scanObject(s.db.QueryRowContext(ctx, `SELECT `+objectColumns+` FROM tracked_objects WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("object with ID %q: %w", id, model.ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select object %q: %w", id, err)
	}
	return o, nil
}

// ListObjects returns all objects ordered by ID.
func (s *Store) ListObjects(ctx context.Context) ([]*model.TrackedObject, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+objectColumns+` FROM tracked_objects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	res := make([]*model.TrackedObject, 0)
	for rows.Next() {
		o, err := scanObject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// DeleteObject removes an object.
func (s *Store) DeleteObject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tracked_objects WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete object %q: %w", id, err)
	}
	return requireAffected(res, fmt.Errorf("object with ID %q: %w", id, model.ErrObjectNotFound))
}

// UpdateObjectPosition moves a single object.
func (s *Store) UpdateObjectPosition(ctx context.Context, id string, pos model.Coordinate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tracked_objects SET longitude = ?, latitude = ? WHERE id = ?`,
		pos.Longitude, pos.Latitude, id)
	if err != nil {
		return fmt.Errorf("move object %q: %w", id, err)
	}
	return requireAffected(res, fmt.Errorf("object with ID %q: %w", id, model.ErrObjectNotFound))
}

// UpdateObjectsPosition moves every object registered to trainNumber.
func (s *Store) UpdateObjectsPosition(ctx context.Context, trainNumber string, pos model.Coordinate) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tracked_objects SET longitude = ?, latitude = ? WHERE train_number = ?`,
		pos.Longitude, pos.Latitude, trainNumber)
	if err != nil {
		return 0, fmt.Errorf("move objects of train %q: %w", trainNumber, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

func scanObject(row rowScanner) (*model.TrackedObject, error) {
	o := &model.TrackedObject{}
	if err := row.Scan(&o.ID, &o.Type, &o.OwnerID, &o.TrainNumber, &o.CoachID, &o.Position.Longitude, &o.Position.Latitude); err != nil {
		return nil, err
	}
	return o, nil
}
