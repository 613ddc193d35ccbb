package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/signalsfoundry/rail-geofence/model"
)

const userColumns = `id, name, phone, email, current_train, current_coach, registered_objects`

// CreateUser adds a user, assigning an ID when empty. Email and phone must be
// unique, and the current train and coach must exist when set.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	objects, err := json.Marshal(nonNilStrings(u.RegisteredObjects))
	if err != nil {
		return fmt.Errorf("encode registered objects: %w", err)
	}

	return s.Transaction(ctx, func(tx *sql.Tx) error {
		if u.CurrentTrain != "" {
			t, err := getTrain(ctx, tx, u.CurrentTrain)
			if err != nil {
				return err
			}
			if u.CurrentCoach != "" {
				if _, ok := t.Coach(u.CurrentCoach); !ok {
					return fmt.Errorf("coach %q on train %q: %w", u.CurrentCoach, u.CurrentTrain, model.ErrCoachNotFound)
				}
			}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.Name, u.Phone, u.Email, u.CurrentTrain, u.CurrentCoach, string(objects))
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", conflictingUserField(err, u), model.ErrUserExists)
		}
		if err != nil {
			return fmt.Errorf("insert user %q: %w", u.ID, err)
		}
		return nil
	})
}

// conflictingUserField names the unique column a failed insert collided on.
// SQLite reports it as "UNIQUE constraint failed: users.<column>".
func conflictingUserField(err error, u *model.User) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "users.email"):
		return fmt.Sprintf("with email %q", u.Email)
	case strings.Contains(msg, "users.phone"):
		return fmt.Sprintf("with phone %q", u.Phone)
	default:
		return fmt.Sprintf("with ID %q", u.ID)
	}
}

// GetUser returns the user with the given ID.
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user with ID %q: %w", id, model.ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select user %q: %w", id, err)
	}
	return u, nil
}

// ListUsers returns all users ordered by name then ID.
func (s *Store) ListUsers(ctx context.Context) ([]*model.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	res := make([]*model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user %q: %w", id, err)
	}
	return requireAffected(res, fmt.Errorf("user with ID %q: %w", id, model.ErrUserNotFound))
}

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	var objects string
	if err := row.Scan(&u.ID, &u.Name, &u.Phone, &u.Email, &u.CurrentTrain, &u.CurrentCoach, &objects); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(objects), &u.RegisteredObjects); err != nil {
		return nil, fmt.Errorf("decode registered objects of user %q: %w", u.ID, err)
	}
	if len(u.RegisteredObjects) == 0 {
		u.RegisteredObjects = nil
	}
	return u, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
