package auth

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledAlwaysValid(t *testing.T) {
	tbl := New()
	assert.False(t, tbl.Enabled())
	assert.True(t, tbl.Validate(""))
	assert.True(t, tbl.Validate("garbage"))
}

func TestValidCredentials(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Load(strings.NewReader("alice:secret\n")))
	assert.True(t, tbl.Enabled())

	cred := base64.StdEncoding.EncodeToString([]byte("alice:secret"))
	assert.True(t, tbl.Validate("Basic "+cred))
}

func TestWrongPassword(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Load(strings.NewReader("alice:secret\n")))
	cred := base64.StdEncoding.EncodeToString([]byte("alice:wrong"))
	assert.False(t, tbl.Validate("Basic "+cred))
}

func TestMissingHeader(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Load(strings.NewReader("alice:secret\n")))
	assert.False(t, tbl.Validate(""))
}

func TestWrongScheme(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Load(strings.NewReader("alice:secret\n")))
	assert.False(t, tbl.Validate("Bearer abc"))
}

func TestMalformedBase64(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Load(strings.NewReader("alice:secret\n")))
	assert.False(t, tbl.Validate("Basic not-base64!!"))
}

func TestDecodedWithoutColon(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Load(strings.NewReader("alice:secret\n")))
	cred := base64.StdEncoding.EncodeToString([]byte("alicesecret"))
	assert.False(t, tbl.Validate("Basic "+cred))
}

func TestCommentsAndBlanksIgnored(t *testing.T) {
	tbl := New()
	require.NoError(t, tbl.Load(strings.NewReader("# comment\n\nalice:secret\n")))
	assert.Equal(t, 1, len(tbl.users))
}
