package bulkstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_StoreEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, _ := newTestStore(t, WithLogger(logger))

	id := createSealed(t, s, []byte("logged"))
	require.NoError(t, s.Delete(id))
	_, _, err := s.Create(4 << 20)
	require.Error(t, err)

	var msgs []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		msgs = append(msgs, rec["msg"].(string))
		if rec["msg"] == "delete completed" {
			assert.Equal(t, id.String(), rec["id"])
			assert.Equal(t, true, rec["released"])
		}
	}
	assert.Equal(t, []string{"create completed", "delete completed", "create failed"}, msgs)
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewTextHandler(&buf, nil)).WithID("o1").WithConnection(7)

	logger.LogReclaim(t.Context(), 3, 4096, 8192, errors.New("advise denied"))
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "id=o1")
	assert.Contains(t, out, "conn=7")
	assert.Contains(t, out, "length=8192")
}

func TestNoopLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		NoopLogger().LogEvict(t.Context(), 1, 0, 0, nil)
	})
}
