package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/brokerdash/x402pay"
)

// EIP712DomainFields is the domain type of EIP-3009 tokens
var EIP712DomainFields = []TypedDataField{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// TransferWithAuthorizationTypes returns the EIP-712 types of an EIP-3009 transfer
func TransferWithAuthorizationTypes() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain": EIP712DomainFields,
		PrimaryTypeTransferWithAuthorization: {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}
}

// ToAPITypedData converts typed data to the go-ethereum representation.
// The result serializes to the JSON expected by eth_signTypedData_v4.
func ToAPITypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) apitypes.TypedData {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{
				Name: field.Name,
				Type: field.Type,
			}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		domainFields := make([]apitypes.Type, len(EIP712DomainFields))
		for i, field := range EIP712DomainFields {
			domainFields[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types["EIP712Domain"] = domainFields
	}

	return typedData
}

// HashAPITypedData computes keccak256("\x19\x01" ‖ domainSeparator ‖ structHash)
func HashAPITypedData(typedData apitypes.TypedData) ([]byte, error) {
	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// HashTypedData hashes EIP-712 typed data
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	return HashAPITypedData(ToAPITypedData(domain, types, primaryType, message))
}

// HashTransferAuthorization hashes a built authorization with its domain
func HashTransferAuthorization(request *AuthorizationRequest) ([]byte, error) {
	return HashTypedData(request.Domain, TransferWithAuthorizationTypes(), PrimaryTypeTransferWithAuthorization, request.Message())
}

// RecoverAuthorizationSigner returns the address that produced signature over the authorization.
// Used to check a wallet signed as the account it reported.
func RecoverAuthorizationSigner(request *AuthorizationRequest, signature []byte) (string, error) {
	if len(signature) != 65 {
		return "", fmt.Errorf("invalid signature length: %d", len(signature))
	}

	digest, err := HashTransferAuthorization(request)
	if err != nil {
		return "", err
	}

	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// verifySignedBy reports an error when signature was not produced by from
func verifySignedBy(request *AuthorizationRequest, signature []byte, from string) error {
	recovered, err := RecoverAuthorizationSigner(request, signature)
	if err != nil {
		return err
	}
	if NormalizeAddress(recovered) != NormalizeAddress(from) {
		return x402.NewPaymentError(x402.ErrCodeSigningRejected, "wallet signed with a different account", map[string]interface{}{
			"expected": from,
			"actual":   recovered,
		})
	}
	return nil
}
