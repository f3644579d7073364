package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/mjit/hir"
	"github.com/chazu/mjit/jit"
	"github.com/chazu/mjit/profile"
)

// CompileService translates units sent by remote hosts.
type CompileService struct {
	compiler *jit.Compiler
}

// NewCompileService creates a CompileService.
func NewCompileService(c *jit.Compiler) *CompileService {
	return &CompileService{compiler: c}
}

// Compile builds HIR for a unit against the supplied profile samples.
// Nothing is emitted or installed.
func (s *CompileService) Compile(
	ctx context.Context,
	req *connect.Request[CompileRequest],
) (*connect.Response[CompileResponse], error) {
	msg := req.Msg
	if msg.Unit == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unit is required"))
	}

	level := hir.DumpWithoutSnapshot
	if msg.Dump != "" {
		var err error
		if level, err = hir.ParseDumpLevel(msg.Dump); err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
	}
	types, err := profile.FromSamples(msg.Profile)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	res, err := s.compiler.Translate(ctx, msg.Unit, types)
	if err != nil {
		log.Infof("compile %s failed: %s", msg.Unit.Name, err)
		return connect.NewResponse(&CompileResponse{
			Success:   false,
			Error:     err.Error(),
			ErrorKind: errorKind(err),
		}), nil
	}

	data, err := hir.MarshalFunction(res.Function)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&CompileResponse{
		ID:        res.ID.String(),
		Success:   true,
		Dump:      res.Function.Dump(level),
		NumBlocks: res.Function.NumBlocks(),
		NumInsns:  res.Function.NumInsns(),
		Cached:    res.Cached,
		Function:  data,
	}), nil
}

// Disassemble returns the bytecode listing of a unit.
func (s *CompileService) Disassemble(
	ctx context.Context,
	req *connect.Request[DisassembleRequest],
) (*connect.Response[DisassembleResponse], error) {
	if req.Msg.Unit == nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unit is required"))
	}
	return connect.NewResponse(&DisassembleResponse{Text: req.Msg.Unit.Disassemble()}), nil
}

func errorKind(err error) string {
	var underflow *hir.StackUnderflowError
	var unknown *hir.UnknownOpcodeError
	switch {
	case errors.As(err, &underflow):
		return KindStackUnderflow
	case errors.As(err, &unknown):
		return KindUnknownOpcode
	case errors.Is(err, hir.ErrMalformedUnit):
		return KindMalformedUnit
	case errors.Is(err, jit.ErrUnitTooLarge):
		return KindUnitTooLarge
	}
	return KindInternal
}
