package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpack(t *testing.T) {
	body := bytes.Repeat([]byte("# Notes\n\nSome markdown with `code`.\n"), 200)

	packed, err := Pack(body)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(body))

	got, err := Unpack(packed)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestUnpackRejectsGarbage(t *testing.T) {
	_, err := Unpack("not base64!")
	assert.Error(t, err)

	_, err = Unpack("aGVsbG8=") // "hello", not a zstd frame
	assert.Error(t, err)
}
