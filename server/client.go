package server

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls a remote CompileService.
type Client struct {
	compile     *connect.Client[CompileRequest, CompileResponse]
	disassemble *connect.Client[DisassembleRequest, DisassembleResponse]
}

// NewClient creates a client for the service at baseURL, e.g.
// "http://localhost:8765".
func NewClient(httpClient connect.HTTPClient, baseURL string) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	codec := connect.WithCodec(newCBORCodec())
	return &Client{
		compile:     connect.NewClient[CompileRequest, CompileResponse](httpClient, baseURL+CompileProcedure, codec),
		disassemble: connect.NewClient[DisassembleRequest, DisassembleResponse](httpClient, baseURL+DisassembleProcedure, codec),
	}
}

// Compile calls CompileService.Compile.
func (c *Client) Compile(ctx context.Context, req *CompileRequest) (*CompileResponse, error) {
	resp, err := c.compile.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Disassemble calls CompileService.Disassemble.
func (c *Client) Disassemble(ctx context.Context, req *DisassembleRequest) (*DisassembleResponse, error) {
	resp, err := c.disassemble.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
