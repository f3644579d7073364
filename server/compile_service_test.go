package server

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"connectrpc.com/connect"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/mjit/bytecode"
	"github.com/chazu/mjit/config"
	"github.com/chazu/mjit/hir"
	"github.com/chazu/mjit/jit"
)

const addOne = "push_temp 0\npush_int8 1\nsend_plus\nreturn_top"

func TestCompile_Speculates(t *testing.T) {
	client := newTestServer(t)

	resp, err := client.Compile(bg(), &CompileRequest{
		Unit:    testUnit(t, addOne),
		Profile: []bytecode.ProfileSample{{PC: 4, Kinds: []string{"fixnum", "fixnum"}}},
	})
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Error)

	_, err = uuid.Parse(resp.ID)
	assert.NoError(t, err)
	assert.Contains(t, resp.Dump, "FixnumAdd")
	assert.NotContains(t, resp.Dump, "Snapshot", "default level hides snapshots")

	fn, err := hir.UnmarshalFunction(resp.Function)
	require.NoError(t, err)
	assert.Equal(t, resp.NumInsns, fn.NumInsns())
	assert.Equal(t, resp.NumBlocks, fn.NumBlocks())
	assert.Equal(t, resp.Dump, fn.Dump(hir.DumpWithoutSnapshot))
}

func TestCompile_DumpLevels(t *testing.T) {
	client := newTestServer(t)
	u := testUnit(t, addOne)

	all, err := client.Compile(bg(), &CompileRequest{Unit: u, Dump: "all"})
	require.NoError(t, err)
	assert.Contains(t, all.Dump, "Snapshot")

	none, err := client.Compile(bg(), &CompileRequest{Unit: u, Dump: "none"})
	require.NoError(t, err)
	assert.True(t, none.Success)
	assert.Empty(t, none.Dump)
}

func TestCompile_TranslationErrors(t *testing.T) {
	client := newTestServer(t)

	tests := []struct {
		name string
		unit *bytecode.Unit
		kind string
	}{
		{"falls off the end", &bytecode.Unit{Name: "f", Code: []byte{byte(bytecode.OpPushNil)}}, KindMalformedUnit},
		{"stack underflow", testUnit(t, "pop\nreturn_nil"), KindStackUnderflow},
		{"bad frame", &bytecode.Unit{Name: "f", NumParams: 2, NumLocals: 1, Code: []byte{byte(bytecode.OpReturnNil)}}, KindMalformedUnit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Compile(bg(), &CompileRequest{Unit: tt.unit})
			require.NoError(t, err)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.kind, resp.ErrorKind)
			assert.NotEmpty(t, resp.Error)
			assert.Empty(t, resp.Function)
		})
	}
}

func TestCompile_InvalidRequests(t *testing.T) {
	client := newTestServer(t)
	u := testUnit(t, addOne)

	tests := []struct {
		name string
		req  *CompileRequest
	}{
		{"no unit", &CompileRequest{}},
		{"bad dump level", &CompileRequest{Unit: u, Dump: "loud"}},
		{"bad profile kind", &CompileRequest{Unit: u, Profile: []bytecode.ProfileSample{{PC: 4, Kinds: []string{"quaternion"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.Compile(bg(), tt.req)
			require.Error(t, err)
			assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
		})
	}
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, KindUnitTooLarge, errorKind(jit.ErrUnitTooLarge))
	assert.Equal(t, KindUnknownOpcode, errorKind(&hir.UnknownOpcodeError{Name: "PUSH_CONTEXT"}))
	assert.Equal(t, KindInternal, errorKind(assert.AnError))
}

func TestDisassemble(t *testing.T) {
	client := newTestServer(t)

	resp, err := client.Disassemble(bg(), &DisassembleRequest{Unit: testUnit(t, addOne)})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "PUSH_TEMP 3 (local 0)")
	assert.Contains(t, resp.Text, "SEND_PLUS")

	_, err = client.Disassemble(bg(), &DisassembleRequest{})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

// TestPlainHTTP posts a CBOR body without a Connect client, as a host in
// another language would.
func TestPlainHTTP(t *testing.T) {
	c := jit.NewCompiler(jit.Options{Config: config.Default().JIT})
	defer c.Stop()
	ts := httptest.NewServer(New(c).Handler())
	defer ts.Close()

	body, err := cbor.Marshal(&DisassembleRequest{Unit: testUnit(t, "return_self")})
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+DisassembleProcedure, "application/cbor", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out DisassembleResponse
	require.NoError(t, cbor.NewDecoder(resp.Body).Decode(&out))
	assert.Contains(t, out.Text, "RETURN_SELF")
}
