package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/tshirt-orderflow/internal/apperr"
	"github.com/imrishuroy/tshirt-orderflow/internal/idempotency"
)

// IdempotencyKeyHeader names the optional header that makes POST /order
// replayable.
const IdempotencyKeyHeader = "Idempotency-Key"

// IdempotencyStore remembers order creation outcomes. *idempotency.Store
// implements it.
type IdempotencyStore interface {
	Claim(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (*idempotency.Record, error)
	MarkDone(ctx context.Context, key, orderID, responseBody string, responseStatus int) error
	MarkFailed(ctx context.Context, key, note string) error
}

// claim takes key for this request. When an earlier request holds it, claim
// writes that request's outcome and returns false.
func (h *ordersHandler) claim(c *gin.Context, key string) bool {
	ctx := c.Request.Context()
	created, err := h.idem.Claim(ctx, key)
	if err != nil {
		fail(c, h.logger, apperr.Storage("claim idempotency key", err))
		return false
	}
	if created {
		return true
	}

	rec, err := h.idem.Get(ctx, key)
	if err != nil {
		fail(c, h.logger, apperr.Storage("get idempotency key", err))
		return false
	}
	if rec == nil {
		// expired between the claim and the read
		fail(c, h.logger, apperr.Conflict("idempotency key is being reused; retry the request"))
		return false
	}

	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" && json.Valid([]byte(rec.ResponseBody)) {
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return false
		}
		respond(c, http.StatusOK, "order already created", gin.H{"id": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, Response{Success: true, Message: "request already in progress"})
	case idempotency.StatusFailed:
		fail(c, h.logger, apperr.Conflict("previous attempt failed; retry with a new Idempotency-Key"))
	default:
		fail(c, h.logger, apperr.Storage("replay idempotency key", errUnknownStatus(rec.Status)))
	}
	return false
}

// settle records the outcome of the request holding key. Errors are logged
// only; the client already has its response.
func (h *ordersHandler) settle(ctx context.Context, key, orderID string, status int, body any, cause error) {
	if cause != nil {
		if err := h.idem.MarkFailed(ctx, key, cause.Error()); err != nil {
			h.logger.Warn("mark idempotency key failed", "key", key, "err", err)
		}
		return
	}
	raw, err := json.Marshal(body)
	if err != nil {
		h.logger.Warn("encode idempotent response", "key", key, "err", err)
		return
	}
	if err := h.idem.MarkDone(ctx, key, orderID, string(raw), status); err != nil {
		h.logger.Warn("mark idempotency key done", "key", key, "err", err)
	}
}

type errUnknownStatus string

func (e errUnknownStatus) Error() string { return "unknown idempotency status " + string(e) }
