// Package server exposes the compiler over Connect so hosts in other
// processes can submit units and read back HIR.
package server

import (
	"net/http"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/mjit/jit"
)

var log = commonlog.GetLogger("mjit.server")

// Server is the HTTP front end for a Compiler.
type Server struct {
	mux *http.ServeMux
}

// New creates a Server for c. The caller keeps ownership of c.
func New(c *jit.Compiler) *Server {
	svc := NewCompileService(c)
	codec := connect.WithCodec(newCBORCodec())

	s := &Server{mux: http.NewServeMux()}
	s.mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, svc.Compile, codec))
	s.mux.Handle(DisassembleProcedure, connect.NewUnaryHandler(DisassembleProcedure, svc.Disassemble, codec))
	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts the HTTP server on addr ("host:port" or ":port").
func (s *Server) ListenAndServe(addr string) error {
	log.Noticef("compile service listening on %s", addr)
	log.Noticef("  http://%s%s", addr, CompileProcedure)
	return http.ListenAndServe(addr, s.mux)
}
