package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/brokerdash/x402pay"
	"github.com/brokerdash/x402pay/broker"
	"github.com/brokerdash/x402pay/jobs"
	"github.com/brokerdash/x402pay/mechanisms/evm"
)

// errorBody is what every failed request returns. Error is meant to be
// shown to the user as is.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Codes for failures outside the payment path
const (
	CodeInvalidRequest = "invalid_request"
	CodeNotFound       = "not_found"
	CodeBrokerError    = "broker_error"
	CodeNotConfigured  = "not_configured"
	CodeInternal       = "internal"
)

var paymentStatus = map[string]int{
	x402.ErrCodeWalletUnavailable:     http.StatusServiceUnavailable,
	x402.ErrCodeNoAccounts:            http.StatusServiceUnavailable,
	x402.ErrCodeWalletNotConnected:    http.StatusServiceUnavailable,
	x402.ErrCodeNetworkSwitchRejected: http.StatusConflict,
	x402.ErrCodeNetworkAddRejected:    http.StatusConflict,
	x402.ErrCodeSigningRejected:       http.StatusConflict,
	x402.ErrCodePaymentAborted:        http.StatusConflict,
	x402.ErrCodePaymentInProgress:     http.StatusTooManyRequests,
	x402.ErrCodeMalformedChallenge:    http.StatusBadGateway,
	x402.ErrCodeInvalidChallenge:      http.StatusBadGateway,
	x402.ErrCodeUnsupportedNetwork:    http.StatusBadGateway,
	x402.ErrCodeUnsupportedScheme:     http.StatusBadGateway,
	x402.ErrCodePaymentRetryFailed:    http.StatusBadGateway,
	x402.ErrCodeRevocationFailed:      http.StatusBadGateway,
	x402.ErrCodeRevocationTimeout:     http.StatusGatewayTimeout,
}

// classify maps err to a status and response body
func classify(err error) (int, errorBody) {
	var pe *x402.PaymentError
	if errors.As(err, &pe) {
		status, ok := paymentStatus[pe.Code]
		if !ok {
			status = http.StatusBadGateway
		}
		return status, errorBody{Error: pe.Message, Code: pe.Code}
	}

	var statusErr *broker.StatusError
	switch {
	case errors.As(err, &statusErr):
		return http.StatusBadGateway, errorBody{Error: statusErr.Error(), Code: CodeBrokerError}
	case errors.Is(err, broker.ErrInvalidResponse):
		return http.StatusBadGateway, errorBody{Error: err.Error(), Code: CodeBrokerError}
	case errors.Is(err, broker.ErrInvalidRequest), errors.Is(err, evm.ErrInvalidPaymentInfo):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: CodeInvalidRequest}
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: CodeNotFound}
	}
	return http.StatusInternalServerError, errorBody{Error: err.Error(), Code: CodeInternal}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Warn().Err(err).Str("code", body.Code).Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{Error: msg, Code: CodeInvalidRequest})
}
