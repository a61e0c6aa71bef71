package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	prev := Logger()
	buf := &bytes.Buffer{}
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	SetLogger(zerolog.New(buf))
	t.Cleanup(func() {
		SetLogger(prev)
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})
	return buf
}

func TestCtxAddsRequestID(t *testing.T) {
	buf := captureLogs(t)
	ctx := ContextWithRequestID(context.Background(), "req-1")

	Ctx(ctx).Info().Msg("hello")
	require.Contains(t, buf.String(), `"request_id":"req-1"`)
	require.Equal(t, "req-1", RequestIDFromContext(ctx))
	require.Empty(t, RequestIDFromContext(context.Background()))
}

func TestSlogBridge(t *testing.T) {
	buf := captureLogs(t)

	NewSlogLogger().With("service", "http").Warn("restarting", "attempt", 2)
	out := buf.String()
	require.Contains(t, out, `"level":"warn"`)
	require.Contains(t, out, `"service":"http"`)
	require.Contains(t, out, `"attempt":2`)
	require.Contains(t, out, "restarting")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	require.Equal(t, zerolog.InfoLevel, parseLevel("nonsense"))
}
