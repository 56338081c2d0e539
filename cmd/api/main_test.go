package main

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunReturnsListenError(t *testing.T) {
	req := require.New(t)

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	req.NoError(err)
	t.Cleanup(func() { _ = busy.Close() })

	t.Setenv("PORT", busy.Addr().String())
	t.Setenv("GATEWAY_PROVIDER", "echo")
	t.Setenv("STORE_DRIVER", "badger")
	t.Setenv("SESSION_TTL", "1m")
	t.Setenv("LOG_LEVEL", "error")

	err = run()
	req.Error(err)
	req.ErrorContains(err, "server error")
}

func TestRunReturnsConfigError(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")

	err := run()
	require.ErrorContains(t, err, "failed to load configuration")
}
