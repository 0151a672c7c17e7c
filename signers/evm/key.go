package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402evm "github.com/brokerdash/x402pay/mechanisms/evm"
)

// ChainBackend is the node access a KeyProvider needs to send transactions.
// *ethclient.Client implements it.
type ChainBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// KeyProvider is a Provider backed by a local private key.
// It never prompts; every request is approved.
type KeyProvider struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	backend    ChainBackend

	mu     sync.Mutex
	chain  *big.Int
	chains map[string]bool
}

// NewKeyProvider creates a provider from a hex-encoded private key.
// backend may be nil, in which case transactions are unavailable.
func NewKeyProvider(privateKeyHex string, chainID *big.Int, backend ChainBackend) (*KeyProvider, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	if chainID == nil {
		chainID = x402evm.DefaultFallbackChainID
	}

	p := &KeyProvider{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
		backend:    backend,
		chain:      new(big.Int).Set(chainID),
		chains:     map[string]bool{chainID.String(): true},
	}
	for id := range x402evm.KnownChains {
		p.chains[id] = true
	}
	return p, nil
}

// DialKeyProvider creates a key provider sending transactions through rpcURL
func DialKeyProvider(ctx context.Context, privateKeyHex string, rpcURL string) (*KeyProvider, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rpcURL, err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	return NewKeyProvider(privateKeyHex, chainID, client)
}

// Address returns the account of the key
func (p *KeyProvider) Address() string {
	return p.address.Hex()
}

// Request implements Provider
func (p *KeyProvider) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	args, err := normalizeParams(params)
	if err != nil {
		return nil, err
	}

	switch method {
	case "eth_accounts", "eth_requestAccounts":
		return json.Marshal([]string{p.address.Hex()})

	case "eth_chainId":
		p.mu.Lock()
		defer p.mu.Unlock()
		return json.Marshal(hexutil.EncodeBig(p.chain))

	case "wallet_switchEthereumChain":
		var req struct {
			ChainID hexutil.Big `json:"chainId"`
		}
		if err := decodeParam(args, 0, &req); err != nil {
			return nil, err
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		id := req.ChainID.ToInt()
		if !p.chains[id.String()] {
			return nil, &ProviderError{Code: CodeUnrecognizedChain, Message: fmt.Sprintf("unrecognized chain %s", id)}
		}
		p.chain = new(big.Int).Set(id)
		return json.RawMessage("null"), nil

	case "wallet_addEthereumChain":
		var req struct {
			ChainID hexutil.Big `json:"chainId"`
		}
		if err := decodeParam(args, 0, &req); err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.chains[req.ChainID.ToInt().String()] = true
		p.mu.Unlock()
		return json.RawMessage("null"), nil

	case "eth_signTypedData_v4":
		return p.signTypedData(args)

	case "eth_sendTransaction":
		return p.sendTransaction(ctx, args)

	case "eth_getTransactionReceipt":
		return p.transactionReceipt(ctx, args)

	default:
		return nil, &ProviderError{Code: CodeUnsupported, Message: fmt.Sprintf("method %s not supported", method)}
	}
}

func (p *KeyProvider) signTypedData(args []json.RawMessage) (json.RawMessage, error) {
	var from, encoded string
	if err := decodeParam(args, 0, &from); err != nil {
		return nil, err
	}
	if err := decodeParam(args, 1, &encoded); err != nil {
		return nil, err
	}
	if !common.IsHexAddress(from) || common.HexToAddress(from) != p.address {
		return nil, &ProviderError{Code: CodeUnauthorized, Message: fmt.Sprintf("account %s is not available", from)}
	}

	var typedData apitypes.TypedData
	if err := json.Unmarshal([]byte(encoded), &typedData); err != nil {
		return nil, fmt.Errorf("invalid typed data: %w", err)
	}

	digest, err := x402evm.HashAPITypedData(typedData)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, p.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v value for Ethereum (recovery ID 0/1 → 27/28)
	signature[64] += 27

	return json.Marshal(hexutil.Encode(signature))
}

func (p *KeyProvider) sendTransaction(ctx context.Context, args []json.RawMessage) (json.RawMessage, error) {
	if p.backend == nil {
		return nil, &ProviderError{Code: CodeDisconnected, Message: "no chain backend configured"}
	}

	var req struct {
		From string        `json:"from"`
		To   string        `json:"to"`
		Data hexutil.Bytes `json:"data"`
	}
	if err := decodeParam(args, 0, &req); err != nil {
		return nil, err
	}
	if common.HexToAddress(req.From) != p.address {
		return nil, &ProviderError{Code: CodeUnauthorized, Message: fmt.Sprintf("account %s is not available", req.From)}
	}

	chainID, err := p.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	p.mu.Lock()
	selected := new(big.Int).Set(p.chain)
	p.mu.Unlock()
	if chainID.Cmp(selected) != 0 {
		return nil, &ProviderError{Code: CodeChainDisconnected, Message: fmt.Sprintf("backend is on chain %s, wallet on %s", chainID, selected)}
	}

	nonce, err := p.backend.PendingNonceAt(ctx, p.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction count: %w", err)
	}

	tip, err := p.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate tip: %w", err)
	}
	head, err := p.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get head: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	to := common.HexToAddress(req.To)
	gas, err := p.backend.EstimateGas(ctx, ethereum.CallMsg{From: p.address, To: &to, Data: req.Data})
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     big.NewInt(0),
		Data:      req.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), p.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := p.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	return json.Marshal(signed.Hash().Hex())
}

func (p *KeyProvider) transactionReceipt(ctx context.Context, args []json.RawMessage) (json.RawMessage, error) {
	if p.backend == nil {
		return nil, &ProviderError{Code: CodeDisconnected, Message: "no chain backend configured"}
	}

	var hash string
	if err := decodeParam(args, 0, &hash); err != nil {
		return nil, err
	}

	receipt, err := p.backend.TransactionReceipt(ctx, common.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) {
		return json.RawMessage("null"), nil
	}
	if err != nil {
		return nil, err
	}

	var block uint64
	if receipt.BlockNumber != nil {
		block = receipt.BlockNumber.Uint64()
	}
	return json.Marshal(rpcReceipt{
		Status:      hexutil.Uint64(receipt.Status),
		BlockNumber: hexutil.Uint64(block),
		TxHash:      receipt.TxHash.Hex(),
	})
}

// normalizeParams round-trips params through JSON so requests built in Go look
// the same as requests coming off the wire.
func normalizeParams(params []interface{}) ([]json.RawMessage, error) {
	if len(params) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	var args []json.RawMessage
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	return args, nil
}

func decodeParam(args []json.RawMessage, i int, v interface{}) error {
	if i >= len(args) {
		return &ProviderError{Code: -32602, Message: fmt.Sprintf("missing param %d", i)}
	}
	if err := json.Unmarshal(args[i], v); err != nil {
		return &ProviderError{Code: -32602, Message: fmt.Sprintf("invalid param %d: %v", i, err)}
	}
	return nil
}
