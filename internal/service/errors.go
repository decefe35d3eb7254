package service

import "errors"

// Error kinds. Every error returned by the services for a caller mistake or an
// unmet precondition wraps exactly one of these; anything else is internal.
var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInvalid            = errors.New("invalid request")
)

// Error is a specific, user-presentable failure of a given kind.
type Error struct {
	Kind    error
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Kind }

var (
	ErrMissingUser = &Error{ErrUnauthenticated, "unauthenticated", "authentication required"}
	ErrNotOwner    = &Error{ErrForbidden, "forbidden", "website belongs to another user"}

	ErrWebsiteNotFound = &Error{ErrNotFound, "website_not_found", "website not found"}
	ErrDomainNotFound  = &Error{ErrNotFound, "domain_not_found", "website has no domain"}

	ErrDomainTaken      = &Error{ErrConflict, "domain_taken", "domain already taken"}
	ErrWebsiteHasDomain = &Error{ErrConflict, "website_has_domain", "website already has a domain"}
	ErrConcurrentUpdate = &Error{ErrConflict, "concurrent_update", "website changed while launching, please retry"}

	ErrNoDomain         = &Error{ErrPreconditionFailed, "no_domain", "attach a domain before launching"}
	ErrDomainNotActive  = &Error{ErrPreconditionFailed, "domain_not_active", "domain must be active before launch"}
	ErrAlreadyPublished = &Error{ErrPreconditionFailed, "already_published", "website is already published"}
	ErrWebsiteArchived  = &Error{ErrPreconditionFailed, "website_archived", "website is archived"}
	ErrDomainInUse      = &Error{ErrPreconditionFailed, "domain_in_use", "cannot detach the domain of a published website"}

	ErrInvalidDomainName = &Error{ErrInvalid, "invalid_domain", "invalid domain name"}
	ErrUnknownTemplate   = &Error{ErrInvalid, "unknown_template", "unknown template"}
)

func invalid(msg string) error {
	return &Error{Kind: ErrInvalid, Code: "invalid_request", Message: msg}
}

// Kind returns the kind err wraps, or nil for internal errors.
func Kind(err error) error {
	for _, k := range []error{ErrUnauthenticated, ErrForbidden, ErrNotFound, ErrConflict, ErrPreconditionFailed, ErrInvalid} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
