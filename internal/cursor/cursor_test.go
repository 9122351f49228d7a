package cursor

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorEncodeDecode(t *testing.T) {
	c, err := New(ListingTeams, "2025-01-01T00:00:00.000000Z", "0b7e7c1e-1111-4c4c-9a9a-000000000001")
	require.NoError(t, err)

	encoded, err := c.Encode()
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)
	assert.NotContains(t, encoded, "=")

	decoded, err := Decode(encoded, ListingTeams)
	require.NoError(t, err)
	assert.Equal(t, c, decoded)

	key, id := decoded.After()
	assert.Equal(t, "2025-01-01T00:00:00.000000Z", key)
	assert.Equal(t, c.LastID, id)
}

func TestDecode_Empty(t *testing.T) {
	c, err := Decode("", ListingTeams)
	require.NoError(t, err)
	assert.Nil(t, c)

	key, id := c.After()
	assert.Empty(t, key)
	assert.Empty(t, id)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"not base64", "!!!"},
		{"not json", base64.RawURLEncoding.EncodeToString([]byte("nope"))},
		{"missing id", base64.RawURLEncoding.EncodeToString([]byte(`{"l":"teams","k":"x"}`))},
		{"other listing", base64.RawURLEncoding.EncodeToString([]byte(`{"l":"audit","k":"x","id":"y"}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.encoded, ListingTeams)
			assert.Error(t, err)
		})
	}
}

func TestNew_RequiresID(t *testing.T) {
	_, err := New(ListingTeams, "k", "")
	assert.Error(t, err)
}
