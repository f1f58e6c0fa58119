package observability

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	require.NotPanics(t, func() {
		defer RecoverPanic(logger, "state sweep")
		panic("boom")
	})

	assert.Contains(t, buf.String(), "boom")
	assert.Contains(t, buf.String(), "state sweep")
}
