package utils

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lineRecorder struct {
	lines []string
}

func (r *lineRecorder) Write(p []byte) (int, error) {
	r.lines = append(r.lines, string(p))
	return len(p), nil
}

func TestDeferredWriter_FlushWritesLines(t *testing.T) {
	var w DeferredWriter
	_, _ = w.Write([]byte(`{"level":"info"}` + "\n" + `{"level":"warn"}` + "\n"))
	_, _ = w.Write([]byte("partial"))

	rec := &lineRecorder{}
	require.NoError(t, w.Flush(rec))
	assert.Equal(t, []string{`{"level":"info"}` + "\n", `{"level":"warn"}` + "\n", "partial"}, rec.lines)

	var out bytes.Buffer
	require.NoError(t, w.Flush(&out))
	assert.Empty(t, out.String())
}
