package crequests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAuth_RoundTrips(t *testing.T) {
	a, err := ParseAuth("alice:s3cr3t")
	require.NoError(t, err)
	assert.Equal(t, Auth{User: "alice", Password: "s3cr3t"}, a)
	assert.Equal(t, "alice:s3cr3t", a.String())
}

func TestParseAuth_PasswordMayContainColons(t *testing.T) {
	a, err := ParseAuth("alice:pa:ss:word")
	require.NoError(t, err)
	assert.Equal(t, "alice", a.User)
	assert.Equal(t, "pa:ss:word", a.Password)
}

func TestParseAuth_MissingColonIsAnError(t *testing.T) {
	_, err := ParseAuth("no-colon-here")
	assert.Error(t, err)
}

func TestAuth_IsZero(t *testing.T) {
	assert.True(t, Auth{}.IsZero())
	assert.False(t, Auth{User: "a"}.IsZero())
}

func TestBasicAuthToken(t *testing.T) {
	token := basicAuthToken(Auth{User: "Aladdin", Password: "open sesame"})
	assert.Equal(t, "QWxhZGRpbjpvcGVuIHNlc2FtZQ==", token)
}
