package classify

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeImage(t *testing.T) {
	raw := []byte("png-bytes")
	enc := base64.StdEncoding.EncodeToString(raw)

	got, err := DecodeImage(enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeImage("data:image/png;base64," + enc)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	got, err = DecodeImage(base64.RawStdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = DecodeImage("!!!not base64")
	assert.Error(t, err)
}
