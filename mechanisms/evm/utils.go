package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// CreateNonce returns a random 32-byte nonce as 0x-prefixed hex
func CreateNonce() (string, error) {
	return createNonceFrom(rand.Reader)
}

func createNonceFrom(r io.Reader) (string, error) {
	nonce := make([]byte, 32)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return BytesToHex(nonce), nil
}

// CreateValidityWindow returns validAfter = now and validBefore = now + window, in unix seconds
func CreateValidityWindow(now time.Time, window time.Duration) (validAfter, validBefore *big.Int) {
	after := now.Unix()
	return big.NewInt(after), big.NewInt(after + int64(window/time.Second))
}

// IsValidAddress checks for a 20-byte hex address
func IsValidAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress returns the checksummed form of address
func NormalizeAddress(address string) string {
	return common.HexToAddress(address).Hex()
}

// HexToBytes decodes a hex string with or without 0x prefix
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// BytesToHex encodes bytes as 0x-prefixed hex
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// ParseCAIP2ChainID parses "eip155:<id>" labels
func ParseCAIP2ChainID(network string) (*big.Int, bool) {
	reference, found := strings.CutPrefix(network, "eip155:")
	if !found || reference == "" {
		return nil, false
	}
	chainID, ok := new(big.Int).SetString(reference, 10)
	if !ok || chainID.Sign() <= 0 {
		return nil, false
	}
	return chainID, true
}

// LookupAsset returns the known EIP-712 domain of an asset, if any
func LookupAsset(chainID *big.Int, asset string) (AssetInfo, bool) {
	assets, ok := KnownAssets[chainID.String()]
	if !ok {
		return AssetInfo{}, false
	}
	info, ok := assets[strings.ToLower(asset)]
	return info, ok
}
