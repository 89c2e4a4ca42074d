package auth

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func claimsWithRealmAccess(raw string, scope string) *AccessTokenClaims {
	c := &AccessTokenClaims{Scope: scope}
	if raw != "" {
		c.RealmAccess = json.RawMessage(raw)
	}
	return c
}

func TestMapAuthorities(t *testing.T) {
	tests := []struct {
		name          string
		realmAccess   string
		scope         string
		includeScopes bool
		want          Authorities
		wantErr       error
	}{
		{
			name:        "roles uppercased and prefixed",
			realmAccess: `{"roles":["user","admin"]}`,
			want:        Authorities{"ROLE_ADMIN", "ROLE_USER"},
		},
		{
			name:          "roles and scopes unioned",
			realmAccess:   `{"roles":["user"]}`,
			scope:         "openid profile email",
			includeScopes: true,
			want:          Authorities{"ROLE_USER", "SCOPE_email", "SCOPE_openid", "SCOPE_profile"},
		},
		{
			name:        "scopes ignored when not requested",
			realmAccess: `{"roles":["user"]}`,
			scope:       "openid",
			want:        Authorities{"ROLE_USER"},
		},
		{
			name:        "duplicates collapse",
			realmAccess: `{"roles":["user","USER","user"]}`,
			want:        Authorities{"ROLE_USER"},
		},
		{
			name: "absent claim",
			want: Authorities{},
		},
		{
			name:        "roles key absent",
			realmAccess: `{"other":true}`,
			want:        Authorities{},
		},
		{
			name:        "realm_access not an object",
			realmAccess: `"user"`,
			want:        Authorities{},
			wantErr:     ErrMalformedRoles,
		},
		{
			name:          "roles not a list keeps scopes",
			realmAccess:   `{"roles":"user"}`,
			scope:         "openid",
			includeScopes: true,
			want:          Authorities{"SCOPE_openid"},
			wantErr:       ErrMalformedRoles,
		},
		{
			name:        "roles list with non-strings",
			realmAccess: `{"roles":[1,2]}`,
			want:        Authorities{},
			wantErr:     ErrMalformedRoles,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MapAuthorities(claimsWithRealmAccess(tt.realmAccess, tt.scope), tt.includeScopes)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthoritiesHasAndRoles(t *testing.T) {
	got, err := MapAuthorities(claimsWithRealmAccess(`{"roles":["user"]}`, "openid"), true)
	require.NoError(t, err)

	assert.True(t, got.Has("ROLE_USER"))
	assert.True(t, got.Has("SCOPE_openid"))
	assert.False(t, got.Has("ROLE_ADMIN"))
	assert.Equal(t, []string{"ROLE_USER"}, got.Roles())
}
