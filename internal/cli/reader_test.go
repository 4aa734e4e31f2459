package cli

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLine(t *testing.T) {
	r := NewNonBlockingReader(strings.NewReader("  hello world  \n"))

	line, err := r.ReadLine(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "hello world", line)
}

func TestReadLineEOF(t *testing.T) {
	r := NewNonBlockingReader(strings.NewReader(""))

	_, err := r.ReadLine(context.Background())

	assert.ErrorIs(t, err, io.EOF)
}

func TestReadLineCancelled(t *testing.T) {
	// A pipe with no writer blocks forever; cancellation must win.
	pr, _ := io.Pipe()
	r := NewNonBlockingReader(pr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.ReadLine(ctx)

	assert.ErrorIs(t, err, ErrInputCancelled)
}

func TestNewNonBlockingReaderNilPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewNonBlockingReader(nil)
	})
}
