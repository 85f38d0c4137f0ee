package bootstrap

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/bazari-settlement/pkg/config"
	"github.com/angelmondragon/bazari-settlement/pkg/logger"
)

func newTestProcess(buf *bytes.Buffer) (*Process, *int) {
	code := -1
	return &Process{
		Kind:   "test",
		Config: &config.Config{},
		Logger: logger.New(logger.Options{ServiceName: "test", Output: buf, Format: logger.FormatJSON}),
		exit:   func(c int) { code = c },
	}, &code
}

func TestCloseRunsNewestFirstOnce(t *testing.T) {
	proc, _ := newTestProcess(&bytes.Buffer{})
	var order []string
	proc.OnClose("database", func() error { order = append(order, "database"); return nil })
	proc.OnClose("redis", func() error { order = append(order, "redis"); return nil })

	proc.Close()
	proc.Close()

	require.Equal(t, []string{"redis", "database"}, order)
}

func TestCloseLogsFailuresAndContinues(t *testing.T) {
	buf := &bytes.Buffer{}
	proc, _ := newTestProcess(buf)
	closed := false
	proc.OnClose("database", func() error { closed = true; return nil })
	proc.OnClose("pubsub client", func() error { return errors.New("already closed") })

	proc.Close()

	require.True(t, closed)
	require.Contains(t, buf.String(), "error closing pubsub client")
}

func TestMustExitsAfterClosing(t *testing.T) {
	buf := &bytes.Buffer{}
	proc, code := newTestProcess(buf)
	closed := false
	proc.OnClose("redis", func() error { closed = true; return nil })

	proc.Must("ok step", nil)
	require.Equal(t, -1, *code)

	proc.Must("failed to bootstrap redis", errors.New("dial tcp: refused"))
	require.Equal(t, 1, *code)
	require.True(t, closed)
	require.Contains(t, buf.String(), "failed to bootstrap redis")
}

func TestSignalContextCarriesBaseFields(t *testing.T) {
	buf := &bytes.Buffer{}
	proc, _ := newTestProcess(buf)
	proc.Config.App.Env = "dev"

	ctx, stop := proc.SignalContext(map[string]any{"addr": ":8080"})
	defer stop()
	proc.Logger.Info(ctx, "hello")

	out := buf.String()
	require.Contains(t, out, `"serviceKind":"test"`)
	require.Contains(t, out, `"env":"dev"`)
	require.Contains(t, out, `"addr":":8080"`)
}
