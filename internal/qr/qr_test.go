package qr

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ledger/internal/models"
)

func TestSealAndResolve(t *testing.T) {
	c, err := NewCodec("voucher-secret", 0)
	require.NoError(t, err)

	first, err := c.Seal("ABC123")
	require.NoError(t, err)
	second, err := c.Seal("ABC123")
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "fresh nonce per payload")
	assert.NotContains(t, first, "ABC123")

	code, err := c.Resolve(first)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", code)
}

func TestResolveRejectsForeignPayloads(t *testing.T) {
	c, err := NewCodec("voucher-secret", 0)
	require.NoError(t, err)
	other, err := NewCodec("someone-else", 0)
	require.NoError(t, err)

	payload, err := other.Seal("ABC123")
	require.NoError(t, err)

	for _, p := range []string{payload, "ABC123", "MSL1.!!!", "MSL1.", payload[:len(payload)-2]} {
		_, err := c.Resolve(p)
		assert.ErrorIs(t, err, models.ErrInvalidCode, p)
	}
}

func TestPNG(t *testing.T) {
	c, err := NewCodec("voucher-secret", 128)
	require.NoError(t, err)

	data, err := c.PNG("XYZ999")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())
}

func TestNewCodecNeedsSecret(t *testing.T) {
	_, err := NewCodec("", 0)
	assert.Error(t, err)
}
