package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("unit-test-passphrase")
	require.NoError(t, err)

	data, err := c.Encrypt("ya29.access-token")
	require.NoError(t, err)
	require.NotContains(t, string(data), "ya29")

	plain, err := c.Decrypt(data)
	require.NoError(t, err)
	require.Equal(t, "ya29.access-token", plain)
}

func TestCipherRejectsEmptyKey(t *testing.T) {
	_, err := NewCipher("")
	require.Error(t, err)
}

func TestCipherRejectsTamperedData(t *testing.T) {
	c, err := NewCipher("unit-test-passphrase")
	require.NoError(t, err)

	data, err := c.Encrypt("refresh-token")
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff

	_, err = c.Decrypt(data)
	require.Error(t, err)
}

func TestCipherRejectsShortCiphertext(t *testing.T) {
	c, err := NewCipher("unit-test-passphrase")
	require.NoError(t, err)

	_, err = c.Decrypt([]byte{0x01, 0x02})
	require.ErrorIs(t, err, ErrCiphertextTooShort)
}
