// Package mcp exposes broker submissions as MCP tools.
//
// Each tool call goes through the x402 payment path: a 402 from the broker is
// paid once with the configured wallet and the job result is returned as the
// tool result. The payment summary travels in the result's _meta.
package mcp

import (
	"context"
	"encoding/json"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/brokerdash/x402pay/broker"
	"github.com/brokerdash/x402pay/jobs"
)

// Tool names
const (
	ToolRunCode   = "run_code"
	ToolStoreFile = "store_file"
	ToolCachePut  = "cache_put"
	ToolQuoteFee  = "quote_fee"
)

// Meta keys set on tool results
const (
	MetaPaymentResponse = "x402/payment-response"
	MetaErrorCode       = "x402/error-code"
	MetaJobID           = "x402pay/job-id"
)

// Broker submits jobs
type Broker interface {
	Run(ctx context.Context, req broker.RunRequest) (*broker.Submission, error)
	Store(ctx context.Context, req broker.StoreRequest) (*broker.Submission, error)
	Cache(ctx context.Context, req broker.CacheRequest) (*broker.Submission, error)
}

// Options configures the tool server
type Options struct {
	// Name and Version identify the server to clients
	Name    string
	Version string
	// Store, when set, records every accepted job
	Store  jobs.Store
	Logger zerolog.Logger
}

// Tools implements the tool handlers
type Tools struct {
	broker   Broker
	recorder *jobs.Recorder
	logger   zerolog.Logger
}

// NewTools creates tool handlers over b
func NewTools(b Broker, opts Options) *Tools {
	t := &Tools{broker: b, logger: opts.Logger}
	if opts.Store != nil {
		t.recorder = jobs.NewRecorder(opts.Store)
	}
	return t
}

// NewServer creates an MCP server with every broker tool registered
func NewServer(b Broker, opts Options) *mcpsdk.Server {
	if opts.Name == "" {
		opts.Name = "x402pay broker"
	}
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}

	server := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    opts.Name,
		Version: opts.Version,
	}, nil)
	NewTools(b, opts).Register(server)
	return server
}

// Register adds the tools to server
func (t *Tools) Register(server *mcpsdk.Server) {
	server.AddTool(&mcpsdk.Tool{
		Name:        ToolRunCode,
		Description: "Run code on the broker. Each call is paid for with a stablecoin micropayment.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"language": {"type": "string"},
				"code": {"type": "string"},
				"stdin": {"type": "string"}
			},
			"required": ["code"]
		}`),
	}, t.runCode)

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolStoreFile,
		Description: "Store a file on the broker. Content is base64. Each call is paid for.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"filename": {"type": "string"},
				"content": {"type": "string", "description": "base64 file content"},
				"contentType": {"type": "string"}
			},
			"required": ["filename", "content"]
		}`),
	}, t.storeFile)

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolCachePut,
		Description: "Write a value to the broker cache. Each call is paid for.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"key": {"type": "string"},
				"value": {"type": "string"},
				"ttlSeconds": {"type": "integer", "minimum": 0}
			},
			"required": ["key", "value"]
		}`),
	}, t.cachePut)

	server.AddTool(&mcpsdk.Tool{
		Name:        ToolQuoteFee,
		Description: "Quote the relay fee and total for an amount in stablecoin units. Free.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"amount": {"type": "string", "description": "decimal amount, e.g. 0.01"}
			},
			"required": ["amount"]
		}`),
	}, t.quoteFee)
}
