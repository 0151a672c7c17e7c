package evm

import (
	"math/big"
	"time"
)

const (
	// Scheme identifier
	SchemeExact = "exact"

	// Default token decimals for USDC
	DefaultDecimals = 6

	// EIP-712 primary type signed for EIP-3009 transfers
	PrimaryTypeTransferWithAuthorization = "TransferWithAuthorization"

	// Domain used when neither the challenge nor the asset table names the token
	DefaultTokenName    = "USD Coin"
	DefaultTokenVersion = "2"

	// Transaction status
	TxStatusSuccess = 1
	TxStatusFailed  = 0

	// Default validity window of a transfer authorization
	DefaultValidityWindow = 15 * time.Minute

	// Revocation receipt polling budget (~60s)
	RevocationAttempts = 30
	RevocationInterval = 2 * time.Second

	// ApproveSelector is the 4-byte selector of approve(address,uint256)
	ApproveSelector = "0x095ea7b3"
)

var (
	// Network chain IDs
	ChainIDEthereum      = big.NewInt(1)
	ChainIDSepolia       = big.NewInt(11155111)
	ChainIDBase          = big.NewInt(8453)
	ChainIDBaseSepolia   = big.NewInt(84532)
	ChainIDPolygon       = big.NewInt(137)
	ChainIDPolygonAmoy   = big.NewInt(80002)
	ChainIDAvalanche     = big.NewInt(43114)
	ChainIDAvalancheFuji = big.NewInt(43113)

	// DefaultFallbackChainID is used for unrecognized network labels under
	// NetworkPolicyFallback.
	DefaultFallbackChainID = ChainIDBaseSepolia

	// NetworkChainIDs maps legacy network names to their chain IDs.
	// CAIP-2 labels ("eip155:<id>") are resolved without a table entry.
	NetworkChainIDs = map[string]*big.Int{
		"ethereum":           ChainIDEthereum,
		"sepolia":            ChainIDSepolia,
		"abstract":           big.NewInt(2741),
		"abstract-testnet":   big.NewInt(11124),
		"base-sepolia":       ChainIDBaseSepolia,
		"base":               ChainIDBase,
		"avalanche-fuji":     ChainIDAvalancheFuji,
		"avalanche":          ChainIDAvalanche,
		"iotex":              big.NewInt(4689),
		"sei":                big.NewInt(1329),
		"sei-testnet":        big.NewInt(1328),
		"polygon":            ChainIDPolygon,
		"polygon-amoy":       ChainIDPolygonAmoy,
		"peaq":               big.NewInt(3338),
		"story":              big.NewInt(1514),
		"educhain":           big.NewInt(41923),
		"skale-base-sepolia": big.NewInt(324705682),
	}

	// KnownChains holds the parameters handed to wallet_addEthereumChain when
	// a wallet does not know the target chain yet. Keyed by decimal chain ID.
	KnownChains = map[string]ChainParams{
		"8453": {
			ChainName:      "Base",
			RPCURLs:        []string{"https://mainnet.base.org"},
			BlockExplorers: []string{"https://basescan.org"},
			NativeCurrency: NativeCurrency{Name: "Ether", Symbol: "ETH", Decimals: 18},
		},
		"84532": {
			ChainName:      "Base Sepolia",
			RPCURLs:        []string{"https://sepolia.base.org"},
			BlockExplorers: []string{"https://sepolia.basescan.org"},
			NativeCurrency: NativeCurrency{Name: "Sepolia Ether", Symbol: "ETH", Decimals: 18},
		},
		"137": {
			ChainName:      "Polygon",
			RPCURLs:        []string{"https://polygon-rpc.com"},
			BlockExplorers: []string{"https://polygonscan.com"},
			NativeCurrency: NativeCurrency{Name: "POL", Symbol: "POL", Decimals: 18},
		},
		"80002": {
			ChainName:      "Polygon Amoy",
			RPCURLs:        []string{"https://rpc-amoy.polygon.technology"},
			BlockExplorers: []string{"https://amoy.polygonscan.com"},
			NativeCurrency: NativeCurrency{Name: "POL", Symbol: "POL", Decimals: 18},
		},
		"43114": {
			ChainName:      "Avalanche C-Chain",
			RPCURLs:        []string{"https://api.avax.network/ext/bc/C/rpc"},
			BlockExplorers: []string{"https://snowtrace.io"},
			NativeCurrency: NativeCurrency{Name: "Avalanche", Symbol: "AVAX", Decimals: 18},
		},
		"43113": {
			ChainName:      "Avalanche Fuji",
			RPCURLs:        []string{"https://api.avax-test.network/ext/bc/C/rpc"},
			BlockExplorers: []string{"https://testnet.snowtrace.io"},
			NativeCurrency: NativeCurrency{Name: "Avalanche", Symbol: "AVAX", Decimals: 18},
		},
	}

	// KnownAssets lists EIP-3009 tokens whose EIP-712 domain is known, keyed by
	// decimal chain ID and then lowercase contract address.
	KnownAssets = map[string]map[string]AssetInfo{
		"8453": {
			"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913": {
				Address:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				Name:     "USD Coin",
				Version:  "2",
				Decimals: DefaultDecimals,
			},
		},
		"84532": {
			"0x036cbd53842c5426634e7929541ec2318f3dcf7e": {
				Address:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
				Name:     "USDC",
				Version:  "2",
				Decimals: DefaultDecimals,
			},
		},
		"137": {
			"0x3c499c542cef5e3811e1192ce70d8cc03d5c3359": {
				Address:  "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
				Name:     "USD Coin",
				Version:  "2",
				Decimals: DefaultDecimals,
			},
		},
		"43114": {
			"0xb97ef9ef8734c71904d8002f8b6bc66dd9c48a6e": {
				Address:  "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
				Name:     "USD Coin",
				Version:  "2",
				Decimals: DefaultDecimals,
			},
		},
	}

	// ERC20ApproveABI for zeroing an allowance
	ERC20ApproveABI = []byte(`[
		{
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"name": "approve",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)
)
