package http

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nekogravitycat/rental-booking-backend/internal/auth"
	"github.com/nekogravitycat/rental-booking-backend/internal/booking"
	"github.com/nekogravitycat/rental-booking-backend/internal/payment"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/request"
	"github.com/nekogravitycat/rental-booking-backend/internal/pkg/response"
)

const maxWebhookBody = 64 << 10

type Handler struct {
	service       payment.Service
	webhookSecret string
}

func NewHandler(service payment.Service, webhookSecret string) *Handler {
	return &Handler{service: service, webhookSecret: webhookSecret}
}

func (h *Handler) Initiate(c *gin.Context) {
	var uri request.ByReferenceRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BindError(c, err)
		return
	}
	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	rec, err := h.service.RecordChargeInitiated(c.Request.Context(), uri.Reference, req.Amount, req.Currency,
		booking.UserActor(auth.GetUserID(c)))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, NewRecordResponse(rec))
}

func (h *Handler) List(c *gin.Context) {
	var uri request.ByReferenceRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BindError(c, err)
		return
	}

	records, err := h.service.ListByBooking(c.Request.Context(), uri.Reference, booking.UserActor(auth.GetUserID(c)))
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]RecordResponse, len(records))
	for i, r := range records {
		items[i] = NewRecordResponse(r)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (h *Handler) Refund(c *gin.Context) {
	var uri request.ByReferenceRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BindError(c, err)
		return
	}
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	rec, err := h.service.RequestRefund(c.Request.Context(), uri.Reference, req.Amount, req.Reason,
		booking.UserActor(auth.GetUserID(c)))
	if err != nil {
		response.Error(c, err)
		return
	}

	c.JSON(http.StatusAccepted, NewRecordResponse(rec))
}

// Webhook receives processor notifications. The body is signed with the shared secret.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BindError(c, err)
		return
	}
	if !payment.VerifySignature(h.webhookSecret, body, c.GetHeader(payment.SignatureHeader)) {
		response.Error(c, payment.ErrInvalidSignature)
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	var req ProviderEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	if err := h.service.OnProviderEvent(c.Request.Context(), req.Event()); err != nil {
		response.Error(c, err)
		return
	}

	c.Status(http.StatusAccepted)
}

func (h *Handler) ListExceptions(c *gin.Context) {
	var req ListExceptionsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BindError(c, err)
		return
	}
	req.Normalize()

	exceptions, total, err := h.service.ListExceptions(c.Request.Context(), payment.ExceptionFilter{
		BookingID: req.BookingID,
		Kind:      req.Kind,
		Resolved:  req.Resolved,
		Page:      req.Page,
		PageSize:  req.PageSize,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]ExceptionResponse, len(exceptions))
	for i, e := range exceptions {
		items[i] = NewExceptionResponse(e)
	}
	c.JSON(http.StatusOK, response.NewPageResponse(items, req.Page, req.PageSize, total))
}

func (h *Handler) ResolveException(c *gin.Context) {
	var uri request.ByIDRequest
	if err := c.ShouldBindUri(&uri); err != nil {
		response.BindError(c, err)
		return
	}
	var req ResolveExceptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BindError(c, err)
		return
	}

	e, err := h.service.ResolveException(c.Request.Context(), uri.ID, req.Note)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, NewExceptionResponse(e))
}
