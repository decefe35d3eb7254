package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrDomainNameTaken: another domain row already has this name.
	ErrDomainNameTaken = errors.New("domain name taken")

	// ErrWebsiteHasDomain: the website already has a domain row.
	ErrWebsiteHasDomain = errors.New("website already has a domain")

	// ErrStateConflict: a conditional update matched no row because the
	// subject was not in the required state.
	ErrStateConflict = errors.New("state conflict")
)

const uniqueViolation = "23505"

// mapDomainConflict translates unique violations on the domains table.
func mapDomainConflict(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "domains_name_key":
		return ErrDomainNameTaken
	case "domains_website_id_key":
		return ErrWebsiteHasDomain
	}
	return err
}
