package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/catnip/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE COLLATE NOCASE,
	password_hash TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	token      TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_refresh_tokens_user ON refresh_tokens(user_id);

CREATE TABLE IF NOT EXISTS cats (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	age        INTEGER NOT NULL,
	breed      TEXT NOT NULL,
	owner_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cats_owner_created ON cats(owner_id, created_at DESC);
`

var errDuplicateEmail = errors.New("local: duplicate email")

// DB wraps a sql.DB with the local platform's tables.
type DB struct {
	conn *sql.DB
}

type userRow struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("local: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("local: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("local: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) insertUser(ctx context.Context, u userRow) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Email, u.PasswordHash, u.CreatedAt.UnixNano())
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return errDuplicateEmail
		}
		return fmt.Errorf("local: insert user: %w", err)
	}
	return nil
}

// userByEmail returns nil when no account uses email.
func (db *DB) userByEmail(ctx context.Context, email string) (*userRow, error) {
	var (
		u       userRow
		created int64
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("local: user by email: %w", err)
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	return &u, nil
}

func (db *DB) userByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := db.conn.QueryRowContext(ctx, `SELECT id, email FROM users WHERE id = ?`, id).Scan(&u.ID, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("local: user by id: %w", err)
	}
	return &u, nil
}

func (db *DB) insertRefreshToken(ctx context.Context, token, userID string, expiresAt time.Time) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO refresh_tokens (token, user_id, expires_at) VALUES (?, ?, ?)`,
		token, userID, expiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("local: insert refresh token: %w", err)
	}
	return nil
}

// takeRefreshToken deletes token and returns its owner. Refresh tokens are
// single-use. ok is false when the token is unknown.
func (db *DB) takeRefreshToken(ctx context.Context, token string) (userID string, expiresAt time.Time, ok bool, err error) {
	var exp int64
	err = db.conn.QueryRowContext(ctx,
		`DELETE FROM refresh_tokens WHERE token = ? RETURNING user_id, expires_at`, token).
		Scan(&userID, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("local: take refresh token: %w", err)
	}
	return userID, time.Unix(0, exp), true, nil
}

func (db *DB) deleteRefreshTokens(ctx context.Context, userID string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("local: delete refresh tokens: %w", err)
	}
	return nil
}

// listCats returns the owner's cats, newest first. rowid breaks ties so that
// the order is stable.
func (db *DB) listCats(ctx context.Context, ownerID string) ([]models.Cat, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, name, age, breed, owner_id, created_at
		FROM cats
		WHERE owner_id = ?
		ORDER BY created_at DESC, rowid DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("local: list cats: %w", err)
	}
	defer rows.Close()

	out := []models.Cat{}
	for rows.Next() {
		c, err := scanCat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (db *DB) insertCat(ctx context.Context, c models.Cat) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO cats (id, name, age, breed, owner_id, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Age, c.Breed, c.OwnerID, c.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("local: insert cat: %w", err)
	}
	return nil
}

// getCat returns nil when the owner has no cat with that id.
func (db *DB) getCat(ctx context.Context, ownerID, id string) (*models.Cat, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, name, age, breed, owner_id, created_at
		FROM cats
		WHERE owner_id = ? AND id = ?
	`, ownerID, id)
	c, err := scanCat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// updateCat applies patch and returns the updated row, or nil when the
// owner has no cat with that id.
func (db *DB) updateCat(ctx context.Context, ownerID, id string, patch models.CatPatch) (*models.Cat, error) {
	var (
		sets []string
		args []any
	)
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.Age != nil {
		sets = append(sets, "age = ?")
		args = append(args, *patch.Age)
	}
	if patch.Breed != nil {
		sets = append(sets, "breed = ?")
		args = append(args, *patch.Breed)
	}
	if len(sets) == 0 {
		return db.getCat(ctx, ownerID, id)
	}

	args = append(args, ownerID, id)
	res, err := db.conn.ExecContext(ctx,
		`UPDATE cats SET `+strings.Join(sets, ", ")+` WHERE owner_id = ? AND id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("local: update cat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return db.getCat(ctx, ownerID, id)
}

func (db *DB) deleteCat(ctx context.Context, ownerID, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM cats WHERE owner_id = ? AND id = ?`, ownerID, id); err != nil {
		return fmt.Errorf("local: delete cat: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCat(s scanner) (*models.Cat, error) {
	var (
		c       models.Cat
		created int64
	)
	if err := s.Scan(&c.ID, &c.Name, &c.Age, &c.Breed, &c.OwnerID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("local: scan cat: %w", err)
	}
	c.CreatedAt = time.Unix(0, created).UTC()
	return &c, nil
}
