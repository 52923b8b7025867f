package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	s := NewService("paperdesk", []byte("secret"), time.Hour)
	tok, exp, err := s.Issue("acc-1", RoleUser)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	sub, err := s.ParseToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", sub)

	admin, _, err := s.Issue("root", RoleAdmin)
	require.NoError(t, err)
	c, err := s.Parse(admin)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, c.Role)
	_, err = s.ParseToken(admin)
	require.Error(t, err, "admin tokens are not user tokens")

	_, _, err = s.Issue("", RoleUser)
	require.Error(t, err)
}

func TestParseRejects(t *testing.T) {
	s := NewService("paperdesk", []byte("secret"), time.Hour)
	tok, _, err := s.Issue("acc-1", RoleUser)
	require.NoError(t, err)

	other := NewService("paperdesk", []byte("other"), time.Hour)
	_, err = other.Parse(tok)
	require.Error(t, err, "wrong key")

	foreign := NewService("elsewhere", []byte("secret"), time.Hour)
	_, err = foreign.Parse(tok)
	require.Error(t, err, "wrong issuer")

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = s.Parse(tok)
	require.Error(t, err, "expired")

	_, err = s.Parse("not-a-token")
	require.Error(t, err)
}
