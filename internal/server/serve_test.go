package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer/wayfarer/internal/testhelpers"
)

func TestServe_ShutsDownOnCancel(t *testing.T) {
	testhelpers.SetupLogger(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, "ok")
		}),
		ReadHeaderTimeout: time.Second,
	}

	hookRan := make(chan struct{})
	hooks := &ShutdownHooks{}
	hooks.AddContext("marker", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		close(hookRan)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, srv, listener, 5*time.Second, hooks)
	}()

	res, err := http.Get("http://" + listener.Addr().String())
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	_ = res.Body.Close()
	assert.Equal(t, "ok", string(body))

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}

	select {
	case <-hookRan:
	default:
		t.Fatal("shutdown hook did not run")
	}
}

func TestServe_ReportsHookFailure(t *testing.T) {
	testhelpers.SetupLogger(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	hookErr := errors.New("flush failed")
	hooks := &ShutdownHooks{}
	hooks.AddContext("telemetry", func(context.Context) error { return hookErr })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = Serve(ctx, &http.Server{ReadHeaderTimeout: time.Second}, listener, time.Second, hooks)
	assert.ErrorIs(t, err, hookErr)
}

func TestServe_ListenFailure(t *testing.T) {
	testhelpers.SetupLogger(t)

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = occupied.Close() })

	srv := &http.Server{Addr: occupied.Addr().String(), ReadHeaderTimeout: time.Second}
	err = Serve(context.Background(), srv, nil, time.Second, nil)
	assert.ErrorContains(t, err, "listening on")
}
