package httputil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLimitedBody(t *testing.T) {
	body, err := ReadLimitedBody(strings.NewReader("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	body, err = ReadLimitedBody(strings.NewReader("hello!"), 5)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	assert.Equal(t, "hello", string(body))

	body, err = ReadLimitedBody(strings.NewReader("no cap"), 0)
	require.NoError(t, err)
	assert.Equal(t, "no cap", string(body))
}
