package auth

import (
	"encoding/json"
	"errors"
	"slices"
	"strings"
)

const (
	rolePrefix  = "ROLE_"
	scopePrefix = "SCOPE_"
)

// ErrMalformedRoles is reported when realm_access is present but is not an
// object holding a list of role names.
var ErrMalformedRoles = errors.New("realm_access.roles claim is malformed")

// Authorities is a sorted, de-duplicated set of granted authority names
type Authorities []string

// Has reports whether the set contains name
func (a Authorities) Has(name string) bool {
	_, found := slices.BinarySearch(a, name)
	return found
}

// Roles returns only the ROLE_ authorities
func (a Authorities) Roles() []string {
	var roles []string
	for _, name := range a {
		if strings.HasPrefix(name, rolePrefix) {
			roles = append(roles, name)
		}
	}
	return roles
}

// RealmRoles returns the raw role names from realm_access.roles.
// A missing claim yields no roles and no error.
func RealmRoles(claims *AccessTokenClaims) ([]string, error) {
	if claims == nil || len(claims.RealmAccess) == 0 || string(claims.RealmAccess) == "null" {
		return nil, nil
	}

	var realmAccess map[string]json.RawMessage
	if err := json.Unmarshal(claims.RealmAccess, &realmAccess); err != nil {
		return nil, ErrMalformedRoles
	}

	raw, ok := realmAccess["roles"]
	if !ok || string(raw) == "null" {
		return nil, nil
	}

	var roles []string
	if err := json.Unmarshal(raw, &roles); err != nil {
		return nil, ErrMalformedRoles
	}
	return roles, nil
}

// MapAuthorities converts token claims into granted authorities.
//
// Each realm role becomes ROLE_<UPPERCASE>. With includeScopes, each
// space-separated scope becomes SCOPE_<scope>. The result is always usable:
// when realm_access is malformed the role part is empty and ErrMalformedRoles
// is returned alongside the scope authorities.
func MapAuthorities(claims *AccessTokenClaims, includeScopes bool) (Authorities, error) {
	roles, rolesErr := RealmRoles(claims)

	out := make([]string, 0, len(roles))
	for _, role := range roles {
		if role == "" {
			continue
		}
		out = append(out, rolePrefix+strings.ToUpper(role))
	}

	if includeScopes && claims != nil {
		for _, scope := range strings.Fields(claims.Scope) {
			out = append(out, scopePrefix+scope)
		}
	}

	slices.Sort(out)
	return Authorities(slices.Compact(out)), rolesErr
}
