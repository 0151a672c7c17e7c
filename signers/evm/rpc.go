package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rpc"
)

// RPCProvider forwards requests to a JSON-RPC wallet endpoint, such as a
// remote signer or a browser bridge.
type RPCProvider struct {
	client *rpc.Client
}

// NewRPCProvider wraps an existing client
func NewRPCProvider(client *rpc.Client) *RPCProvider {
	return &RPCProvider{client: client}
}

// DialRPCProvider connects to url
func DialRPCProvider(ctx context.Context, url string) (*RPCProvider, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to wallet at %s: %w", url, err)
	}
	return NewRPCProvider(client), nil
}

// Request implements Provider. JSON-RPC errors are returned as *ProviderError.
func (p *RPCProvider) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	var result json.RawMessage
	if err := p.client.CallContext(ctx, &result, method, params...); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			pe := &ProviderError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
			var dataErr rpc.DataError
			if errors.As(err, &dataErr) {
				if data, mErr := json.Marshal(dataErr.ErrorData()); mErr == nil {
					pe.Data = data
				}
			}
			return nil, pe
		}
		return nil, err
	}
	return result, nil
}

// Close closes the underlying connection
func (p *RPCProvider) Close() {
	p.client.Close()
}
