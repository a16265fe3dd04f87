package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAppliesDefaults(t *testing.T) {
	tgt, err := New(Target{Host: "a", User: "u", Password: "p"})
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, tgt.Port)
	assert.Equal(t, []string{DefaultTag}, tgt.Tags)
	assert.Equal(t, "a:22", tgt.Address())
	assert.Equal(t, "u@a:22", tgt.String())
	assert.Equal(t, "password", tgt.AuthKind())
}

func TestUntaggedTargetsCarryDefaultTag(t *testing.T) {
	for _, tgt := range []Target{
		{Host: "a", User: "u", Password: "p"},
		{Host: "b", User: "u", KeyFile: "/k", Tags: []string{}},
		{Host: "c", User: "u", KeyFile: "/k", Tags: []string{"  ", ""}},
	} {
		assert.Equal(t, []string{DefaultTag}, tgt.TagSet(), tgt.Host)
		assert.Equal(t, []string{DefaultTag}, tgt.WithDefaults().Tags, tgt.Host)
		assert.True(t, tgt.HasAnyTag("default"), tgt.Host)
	}

	tagged := Target{Host: "d", User: "u", Password: "p", Tags: []string{"web"}}
	assert.False(t, tagged.HasAnyTag("default"))
	assert.True(t, tagged.HasAnyTag("db", "WEB"))
}

func TestTagsAreTrimmedAndDeduplicated(t *testing.T) {
	tgt := Target{Host: "a", User: "u", Password: "p", Tags: []string{" web ", "Web", "db", ""}}.WithDefaults()
	assert.Equal(t, []string{"web", "db"}, tgt.Tags)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		wantErr string
	}{
		{"password", Target{Host: "web1.example.com", User: "u", Password: "p"}, ""},
		{"key", Target{Host: "10.0.0.1", User: "u", KeyFile: "~/.ssh/id_rsa"}, ""},
		{"ipv6", Target{Host: "::1", User: "u", KeyFile: "/k"}, ""},
		{"underscore", Target{Host: "db_1", User: "u", Password: "p"}, ""},
		{"ssh config alias", Target{Host: "Prod.Bastion_2", User: "u", Password: "p"}, ""},
		{"tab in host", Target{Host: "a\tb", User: "u", Password: "p"}, "invalid hostname"},
		{"both credentials", Target{Host: "a", User: "u", Password: "p", KeyFile: "/k"}, "exactly one of password or key file"},
		{"no credential", Target{Host: "a", User: "u"}, "exactly one of password or key file"},
		{"no host", Target{User: "u", Password: "p"}, "hostname is required"},
		{"bad host", Target{Host: "bad host!", User: "u", Password: "p"}, "invalid hostname"},
		{"no user", Target{Host: "a", Password: "p"}, "username is required"},
		{"bad port", Target{Host: "a", User: "u", Password: "p", Port: 70000}, "out of valid range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.target)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAuthKind(t *testing.T) {
	assert.Equal(t, "key", Target{KeyFile: "/k"}.AuthKind())
	assert.Equal(t, "password", Target{Password: "p"}.AuthKind())
}

func TestValidationErrorFlagsCredentialProblems(t *testing.T) {
	err := Validate(Target{Host: "db1", User: "u", Port: 22})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.True(t, ve.Credential)
	assert.Equal(t, "db1", ve.Host)
	assert.Equal(t, []string{"exactly one of password or key file is required"}, ve.Problems)

	err = Validate(Target{Host: "db1", Password: "p", Port: 22})
	require.ErrorAs(t, err, &ve)
	assert.False(t, ve.Credential)
	assert.Equal(t, []string{"username is required"}, ve.Problems)
}
