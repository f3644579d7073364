package server

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chazu/mjit/bytecode"
	"github.com/chazu/mjit/config"
	"github.com/chazu/mjit/jit"
)

// newTestServer starts a Server on an httptest listener and returns a
// client for it.
func newTestServer(t *testing.T) *Client {
	t.Helper()
	c := jit.NewCompiler(jit.Options{Config: config.Default().JIT})
	ts := httptest.NewServer(New(c).Handler())
	t.Cleanup(func() {
		ts.Close()
		c.Stop()
	})
	return NewClient(ts.Client(), ts.URL)
}

func testUnit(t *testing.T, src string) *bytecode.Unit {
	t.Helper()
	u := &bytecode.Unit{Name: t.Name(), NumParams: 1, NumLocals: 1}
	require.NoError(t, u.Assemble(src))
	return u
}

func bg() context.Context {
	return context.Background()
}
