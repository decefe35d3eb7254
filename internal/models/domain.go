package models

import (
	"regexp"
	"strings"
	"time"
)

// Domain status constants
const (
	DomainStatusPending = "PENDING"
	DomainStatusActive  = "ACTIVE"
	DomainStatusFailed  = "FAILED"
)

// Domain is a hostname attached to exactly one website
type Domain struct {
	ID            string
	WebsiteID     string
	Name          string
	Status        string
	SSLEnabled    bool
	FailureReason *string
	ActivatedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var hostnamePattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)

// NormalizeDomainName lower-cases and trims a user supplied name.
func NormalizeDomainName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, ".")
}

// ValidDomainName reports whether a normalized name is a usable hostname.
func ValidDomainName(name string) bool {
	return len(name) <= 253 && hostnamePattern.MatchString(name)
}
