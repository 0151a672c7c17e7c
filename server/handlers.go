package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	x402 "github.com/brokerdash/x402pay"
	"github.com/brokerdash/x402pay/broker"
	"github.com/brokerdash/x402pay/internal/metrics"
	"github.com/brokerdash/x402pay/jobs"
)

func (s *Server) listJobs(c *gin.Context) {
	var kind broker.Kind
	if k := c.Query("kind"); k != "" {
		parsed, err := broker.ParseKind(k)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		kind = parsed
	}

	records, err := s.store.List(c.Request.Context(), kind)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": records})
}

func (s *Server) getJob(c *gin.Context) {
	record, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) refreshJob(c *gin.Context) {
	record, err := s.refresher.Refresh(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) submitRun(c *gin.Context) {
	var req broker.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	s.submit(c, broker.KindRun, func(ctx context.Context) (*broker.Submission, error) {
		return s.broker.Run(ctx, req)
	})
}

func (s *Server) submitStore(c *gin.Context) {
	var req broker.StoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	s.submit(c, broker.KindStore, func(ctx context.Context) (*broker.Submission, error) {
		return s.broker.Store(ctx, req)
	})
}

func (s *Server) submitCache(c *gin.Context) {
	var req broker.CacheRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	s.submit(c, broker.KindCache, func(ctx context.Context) (*broker.Submission, error) {
		return s.broker.Cache(ctx, req)
	})
}

// submit runs call and records the job. Nothing is stored when call fails.
func (s *Server) submit(c *gin.Context, kind broker.Kind, call func(ctx context.Context) (*broker.Submission, error)) {
	start := time.Now()
	sub, err := call(c.Request.Context())
	metrics.ObserveSubmission(string(kind), start, err)
	if err != nil {
		s.fail(c, err)
		return
	}

	record, err := s.recorder.Record(c.Request.Context(), sub)
	if err != nil {
		// the job was paid for; hand back the result so it is not bought twice
		s.logger.Warn().Err(err).Str("kind", string(kind)).Str("broker_job_id", sub.Job.JobID).Msg("failed to record job")
		c.JSON(http.StatusCreated, unrecordedJob{
			Job:        sub.Job,
			Payment:    sub.Payment,
			Settlement: sub.Settlement,
			Warning:    "job was paid for and accepted but could not be saved",
		})
		return
	}
	c.JSON(http.StatusCreated, record)
}

// unrecordedJob is returned when an accepted job could not be stored
type unrecordedJob struct {
	Job        broker.JobResponse   `json:"job"`
	Payment    *x402.PaymentInfo    `json:"payment,omitempty"`
	Settlement *x402.SettleResponse `json:"settlement,omitempty"`
	Warning    string               `json:"warning"`
}

type revokeRequest struct {
	// JobID revokes the allowance of the payment recorded with a job
	JobID string `json:"jobId"`
	x402.PaymentInfo
}

func (s *Server) revoke(c *gin.Context) {
	if s.revoker == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, errorBody{Error: "revocation is not configured", Code: CodeNotConfigured})
		return
	}

	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	info := req.PaymentInfo
	if req.JobID != "" {
		record, err := s.store.Get(c.Request.Context(), req.JobID)
		if err != nil {
			s.fail(c, err)
			return
		}
		if record.Spender == "" {
			badRequest(c, "job was not paid for")
			return
		}
		info = x402.PaymentInfo{
			Network: x402.Network(record.Network),
			Spender: record.Spender,
			Asset:   record.Asset,
			Payer:   record.Payer,
		}
	}

	txHash, err := s.revoker.Revoke(c.Request.Context(), info)
	metrics.ObserveRevocation(err)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txHash})
}

func (s *Server) quoteFee(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("amount"))
	if raw == "" {
		badRequest(c, "amount is required")
		return
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		badRequest(c, "amount must be a decimal number")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"amount": amount.String(),
		"fee":    x402.RelayFee(amount).String(),
		"total":  x402.TotalAmount(amount).String(),
	})
}

var _ jobs.StatusFetcher = (*broker.Client)(nil)
