package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/shopspring/decimal"

	x402 "github.com/brokerdash/x402pay"
	"github.com/brokerdash/x402pay/broker"
)

func (t *Tools) runCode(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args broker.RunRequest
	if err := unmarshalArguments(req, &args); err != nil {
		return errorResult(err), nil
	}
	return t.submit(ctx, broker.KindRun, func() (*broker.Submission, error) {
		return t.broker.Run(ctx, args)
	}), nil
}

func (t *Tools) storeFile(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args broker.StoreRequest
	if err := unmarshalArguments(req, &args); err != nil {
		return errorResult(err), nil
	}
	return t.submit(ctx, broker.KindStore, func() (*broker.Submission, error) {
		return t.broker.Store(ctx, args)
	}), nil
}

func (t *Tools) cachePut(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args broker.CacheRequest
	if err := unmarshalArguments(req, &args); err != nil {
		return errorResult(err), nil
	}
	return t.submit(ctx, broker.KindCache, func() (*broker.Submission, error) {
		return t.broker.Cache(ctx, args)
	}), nil
}

type quoteArgs struct {
	Amount string `json:"amount"`
}

func (t *Tools) quoteFee(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	var args quoteArgs
	if err := unmarshalArguments(req, &args); err != nil {
		return errorResult(err), nil
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(args.Amount))
	if err != nil {
		return errorResult(fmt.Errorf("amount must be a decimal number: %q", args.Amount)), nil
	}

	quote := map[string]interface{}{
		"amount": amount.String(),
		"fee":    x402.RelayFee(amount).String(),
		"total":  x402.TotalAmount(amount).String(),
	}
	text, _ := json.Marshal(quote)
	return &mcpsdk.CallToolResult{
		Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: string(text)}},
		StructuredContent: quote,
	}, nil
}

func (t *Tools) submit(ctx context.Context, kind broker.Kind, call func() (*broker.Submission, error)) *mcpsdk.CallToolResult {
	sub, err := call()
	if err != nil {
		t.logger.Info().Err(err).Str("kind", string(kind)).Str("code", x402.ErrorCode(err)).Msg("tool call failed")
		return errorResult(err)
	}

	result := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(sub.Body)}},
		Meta:    mcpsdk.Meta{},
	}

	var structured map[string]interface{}
	if err := json.Unmarshal(sub.Body, &structured); err == nil {
		result.StructuredContent = structured
	}

	if sub.Payment != nil {
		payment := map[string]interface{}{
			"network": string(sub.Payment.Network),
			"payer":   sub.Payment.Payer,
			"payTo":   sub.Payment.Spender,
			"asset":   sub.Payment.Asset,
		}
		if sub.Settlement != nil {
			payment["success"] = sub.Settlement.Success
			payment["transaction"] = sub.Settlement.Transaction
		}
		result.Meta[MetaPaymentResponse] = payment
	}

	if t.recorder != nil {
		record, err := t.recorder.Record(ctx, sub)
		if err != nil {
			// the job ran and was paid for; report it even if it was not recorded
			t.logger.Warn().Err(err).Str("job_id", sub.Job.JobID).Msg("failed to record job")
		} else {
			result.Meta[MetaJobID] = record.ID
		}
	}
	return result
}

func unmarshalArguments(req *mcpsdk.CallToolRequest, v interface{}) error {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, v); err != nil {
		return fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	return nil
}

// errorResult reports err as a tool error. Payment errors keep their message
// and carry their code in _meta.
func errorResult(err error) *mcpsdk.CallToolResult {
	msg := err.Error()
	result := &mcpsdk.CallToolResult{IsError: true}

	var pe *x402.PaymentError
	if errors.As(err, &pe) {
		msg = pe.Message
		result.Meta = mcpsdk.Meta{MetaErrorCode: pe.Code}
	}
	result.Content = []mcpsdk.Content{&mcpsdk.TextContent{Text: msg}}
	return result
}
