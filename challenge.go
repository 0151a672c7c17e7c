package x402

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// challengeSchema constrains the shape of a 402 body. Field presence inside an
// option is checked by ValidatePaymentOption so that a well-formed but
// incomplete option is reported as invalid rather than malformed.
const challengeSchema = `{
	"type": "object",
	"required": ["x402Version", "accepts"],
	"properties": {
		"x402Version": {"type": "integer", "minimum": 1},
		"error": {"type": "string"},
		"accepts": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"scheme": {"type": "string"},
					"network": {"type": "string"},
					"maxAmountRequired": {"type": "string"},
					"resource": {"type": "string"},
					"description": {"type": "string"},
					"mimeType": {"type": "string"},
					"payTo": {"type": "string"},
					"maxTimeoutSeconds": {"type": "integer"},
					"asset": {"type": "string"},
					"extra": {"type": ["object", "null"]}
				}
			}
		}
	}
}`

var (
	compiledSchema     *gojsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

func loadChallengeSchema() (*gojsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		compiledSchema, compiledSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(challengeSchema))
	})
	return compiledSchema, compiledSchemaErr
}

// ParseChallenge decodes and validates a 402 response body.
// Any decoding or schema failure is reported as ErrMalformedChallenge.
func ParseChallenge(body []byte) (PaymentChallenge, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return PaymentChallenge{}, NewPaymentError(ErrCodeMalformedChallenge, "empty payment challenge body", nil)
	}

	schema, err := loadChallengeSchema()
	if err != nil {
		return PaymentChallenge{}, fmt.Errorf("failed to compile challenge schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return PaymentChallenge{}, WrapPaymentError(ErrCodeMalformedChallenge, "payment challenge is not valid JSON", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
		}
		return PaymentChallenge{}, NewPaymentError(ErrCodeMalformedChallenge, "payment challenge does not match schema", map[string]interface{}{
			"errors": problems,
		})
	}

	var challenge PaymentChallenge
	if err := json.Unmarshal(body, &challenge); err != nil {
		return PaymentChallenge{}, WrapPaymentError(ErrCodeMalformedChallenge, "failed to decode payment challenge", err)
	}

	return challenge, nil
}

// FirstOption returns the authoritative option of a challenge.
// Options after the first are never considered.
func FirstOption(challenge PaymentChallenge) (PaymentOption, error) {
	if len(challenge.Accepts) == 0 {
		return PaymentOption{}, NewPaymentError(ErrCodeInvalidChallenge, "payment challenge lists no accepted options", nil)
	}
	option := challenge.Accepts[0]
	if err := ValidatePaymentOption(option); err != nil {
		return PaymentOption{}, err
	}
	return option, nil
}

// ValidatePaymentOption checks the fields a transfer authorization is built from
func ValidatePaymentOption(option PaymentOption) error {
	var missing []string
	if option.Asset == "" {
		missing = append(missing, "asset")
	}
	if option.PayTo == "" {
		missing = append(missing, "payTo")
	}
	if option.MaxAmountRequired == "" {
		missing = append(missing, "maxAmountRequired")
	}
	if len(missing) > 0 {
		return NewPaymentError(ErrCodeInvalidChallenge, "payment option is missing required fields", map[string]interface{}{
			"missing": missing,
		})
	}

	amount, ok := new(big.Int).SetString(option.MaxAmountRequired, 10)
	if !ok || amount.Sign() < 0 {
		return NewPaymentError(ErrCodeInvalidChallenge, fmt.Sprintf("invalid maxAmountRequired: %s", option.MaxAmountRequired), nil)
	}

	return nil
}
