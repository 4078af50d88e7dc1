// Package store holds the gorm repositories for the auth tables.
package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned on unique constraint violations.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrConflict is returned when a conditional update matched no row.
	ErrConflict = errors.New("store: conflict")
	// ErrLastCredential is returned when deleting the only remaining passkey.
	ErrLastCredential = errors.New("store: last credential")
)

const pgUniqueViolation = "23505"

// Store groups the repositories over one connection.
type Store struct {
	Users       *Users
	Credentials *Credentials
	Tokens      *Tokens
}

// New constructs the repositories.
func New(db *gorm.DB) *Store {
	return &Store{
		Users:       &Users{db: db},
		Credentials: &Credentials{db: db},
		Tokens:      &Tokens{db: db},
	}
}

// translate maps driver errors to store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
