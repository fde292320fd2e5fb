package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	salt, err := NewSalt()
	require.NoError(t, err)

	c, err := New("correct horse battery staple", salt)
	require.NoError(t, err)

	for _, plain := range []string{"", "x", "a longer secret value with spaces", "ünïcødé"} {
		sealed, err := c.Encrypt(plain)
		require.NoError(t, err)
		assert.NotEqual(t, plain, sealed)

		got, err := c.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	t.Parallel()

	salt, err := NewSalt()
	require.NoError(t, err)
	c, err := New("pass", salt)
	require.NoError(t, err)

	a, err := c.Encrypt("same")
	require.NoError(t, err)
	b, err := c.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestWrongPassphraseFails(t *testing.T) {
	t.Parallel()

	salt, err := NewSalt()
	require.NoError(t, err)

	writer, err := New("right", salt)
	require.NoError(t, err)
	reader, err := New("wrong", salt)
	require.NoError(t, err)

	sealed, err := writer.Encrypt("secret")
	require.NoError(t, err)

	_, err = reader.Decrypt(sealed)
	assert.Error(t, err)
}

func TestDifferentSaltsYieldDifferentKeys(t *testing.T) {
	t.Parallel()

	saltA, err := NewSalt()
	require.NoError(t, err)
	saltB, err := NewSalt()
	require.NoError(t, err)

	a, err := New("pass", saltA)
	require.NoError(t, err)
	b, err := New("pass", saltB)
	require.NoError(t, err)

	sealed, err := a.Encrypt("secret")
	require.NoError(t, err)

	_, err = b.Decrypt(sealed)
	assert.Error(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	t.Parallel()

	salt, err := NewSalt()
	require.NoError(t, err)
	c, err := New("pass", salt)
	require.NoError(t, err)

	_, err = c.Decrypt("not base64 !!!")
	assert.Error(t, err)

	_, err = c.Decrypt("YWJj") // valid base64, too short for a nonce
	assert.Error(t, err)
}

func TestEmptyPassphraseRejected(t *testing.T) {
	t.Parallel()

	salt, err := NewSalt()
	require.NoError(t, err)

	_, err = New("", salt)
	assert.Error(t, err)
}
