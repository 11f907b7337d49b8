// Package handler exposes ticket composition and the ticket read surface.
package handler

import (
	"net/http"

	"labcase_backend/internal/tickets/service"
	"labcase_backend/internal/tickets/transport"
	"labcase_backend/platform/httpkit"
	"labcase_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler handles HTTP requests for tickets.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new tickets handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the ticket routes under a case-scoped group.
// Ticket composition is restricted to admins; reading is open to any
// authenticated user.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.ListByCase)
	rg.POST("", httpkit.RequireRole("admin"), h.Create)
}

// ListByCase handles GET /api/v1/cases/:id/tickets.
func (h *Handler) ListByCase(c *gin.Context) {
	tickets, details, err := h.svc.ListByCase(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}

	resp := make([]transport.TicketResponse, 0, len(tickets))
	for _, t := range tickets {
		item := transport.TicketResponse{
			ID:           t.ID,
			CaseID:       t.CaseID,
			TicketNumber: t.TicketNumber,
			Status:       t.Status,
			CreatedBy:    t.CreatedBy,
			CreatedAt:    t.CreatedAt,
		}
		if d, ok := details[t.ID]; ok {
			item.FromAddress = d.FromAddress
			item.ToAddress = d.ToAddress
			item.Subject = d.Subject
			item.Message = d.Message
			item.EmailSent = d.EmailSent
			item.EmailSentAt = d.EmailSentAt
		}
		resp = append(resp, item)
	}
	httpkit.OK(c, resp)
}

// Create handles POST /api/v1/cases/:id/tickets.
func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	result, err := h.svc.CreateTicket(c.Request.Context(), service.CreateTicketParams{
		CaseID:          c.Param("id"),
		TemplateID:      req.TemplateID,
		From:            req.From,
		To:              req.To,
		Cc:              req.Cc,
		Bcc:             req.Bcc,
		Subject:         req.Subject,
		Message:         req.Message,
		OverrideSubject: req.OverrideSubject,
		OverrideMessage: req.OverrideMessage,
		Status:          req.Status,
		CreatedBy:       identity.UserID(),
		AssigneeID:      req.AssigneeID,
		SendEmail:       req.SendEmail,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Created(c, transport.CreateTicketResponse{
		TicketID:      result.TicketID,
		DetailID:      result.DetailID,
		TicketNumber:  result.TicketNumber,
		DisplayNumber: result.DisplayNumber,
		Diagnostics:   result.Diagnostics,
	})
}
