package entitlement

import (
	"errors"
	"fmt"
	"regexp"
)

// AccessType names the four shapes a purchase can unlock.
type AccessType string

const (
	AccessSingle        AccessType = "single"
	AccessCompanyBundle AccessType = "company_bundle"
	AccessRoleBundle    AccessType = "role_bundle"
	AccessFull          AccessType = "full"
)

// ErrInvalidScope is returned when a scope is missing a slug its access
// type requires, or a slug fails format validation. It is raised before any
// store access happens.
var ErrInvalidScope = errors.New("invalid access scope")

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidSlug reports whether s is a well-formed company or role slug.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// AccessScope is the tagged union behind the nullable grant columns:
// Single carries both slugs, CompanyBundle only a company, RoleBundle only
// a role, Full neither. Business logic works with this type; NULL-as-wildcard
// exists only at the storage boundary.
type AccessScope struct {
	Type    AccessType
	Company string
	Role    string
}

func Single(company, role string) AccessScope {
	return AccessScope{Type: AccessSingle, Company: company, Role: role}
}

func CompanyBundle(company string) AccessScope {
	return AccessScope{Type: AccessCompanyBundle, Company: company}
}

func RoleBundle(role string) AccessScope {
	return AccessScope{Type: AccessRoleBundle, Role: role}
}

func Full() AccessScope {
	return AccessScope{Type: AccessFull}
}

// ParseAccessType converts an untrusted access-type string from processor
// metadata into a known AccessType.
func ParseAccessType(s string) (AccessType, error) {
	switch AccessType(s) {
	case AccessSingle, AccessCompanyBundle, AccessRoleBundle, AccessFull:
		return AccessType(s), nil
	}
	return "", fmt.Errorf("%w: unknown access type %q", ErrInvalidScope, s)
}

// ParseScope builds a validated AccessScope from the string-keyed metadata
// bag a webhook event carries. Empty strings stand for absent keys.
func ParseScope(accessType, company, role string) (AccessScope, error) {
	at, err := ParseAccessType(accessType)
	if err != nil {
		return AccessScope{}, err
	}
	scope := AccessScope{Type: at, Company: company, Role: role}
	switch at {
	case AccessCompanyBundle:
		scope.Role = ""
	case AccessRoleBundle:
		scope.Company = ""
	case AccessFull:
		scope.Company, scope.Role = "", ""
	}
	if err := scope.Validate(); err != nil {
		return AccessScope{}, err
	}
	return scope, nil
}

// Validate checks the per-variant slug requirements.
func (s AccessScope) Validate() error {
	switch s.Type {
	case AccessSingle:
		if s.Company == "" || s.Role == "" {
			return fmt.Errorf("%w: single access requires company and role", ErrInvalidScope)
		}
	case AccessCompanyBundle:
		if s.Company == "" {
			return fmt.Errorf("%w: company bundle requires a company", ErrInvalidScope)
		}
	case AccessRoleBundle:
		if s.Role == "" {
			return fmt.Errorf("%w: role bundle requires a role", ErrInvalidScope)
		}
	case AccessFull:
	default:
		return fmt.Errorf("%w: unknown access type %q", ErrInvalidScope, s.Type)
	}
	if s.Company != "" && !ValidSlug(s.Company) {
		return fmt.Errorf("%w: malformed company slug %q", ErrInvalidScope, s.Company)
	}
	if s.Role != "" && !ValidSlug(s.Role) {
		return fmt.Errorf("%w: malformed role slug %q", ErrInvalidScope, s.Role)
	}
	return nil
}

// Columns translates the scope to the nullable storage tuple, keyed off the
// variant so a stray slug on a bundle value cannot leak into the wildcard
// dimension. Only the store and its callers inside this package should need
// this.
func (s AccessScope) Columns() (company, role *string) {
	switch s.Type {
	case AccessSingle:
		company, role = &s.Company, &s.Role
	case AccessCompanyBundle:
		company = &s.Company
	case AccessRoleBundle:
		role = &s.Role
	}
	return company, role
}
