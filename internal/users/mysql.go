package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"chatcore/internal/model"
)

// MySQLDirectory reads the users table written by account provisioning.
type MySQLDirectory struct {
	db *sql.DB
}

func NewMySQLDirectory(db *sql.DB) *MySQLDirectory {
	return &MySQLDirectory{db: db}
}

func (d *MySQLDirectory) Get(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := d.db.QueryRowContext(ctx,
		"SELECT id, email, profile_image_url FROM users WHERE id = ?", id,
	).Scan(&u.ID, &u.Email, &u.ProfileImageURL)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, model.ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("query user %s: %w", id, err)
	}
	return u, nil
}

func (d *MySQLDirectory) List(ctx context.Context) ([]model.User, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT id, email, profile_image_url FROM users ORDER BY email")
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	out := make([]model.User, 0)
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.ProfileImageURL); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
