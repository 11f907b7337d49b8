// Package handler exposes the case workflows over HTTP.
package handler

import (
	"net/http"

	"labcase_backend/internal/cases/repository"
	"labcase_backend/internal/cases/service"
	"labcase_backend/internal/cases/transport"
	"labcase_backend/platform/httpkit"
	"labcase_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"

	maxAttachmentMemory = 32 << 20
)

// Handler handles HTTP requests for cases.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new cases handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the case routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/import", h.Import)
	rg.GET("", h.List)
	rg.GET("/:id", h.GetByID)
	rg.PATCH("/:id/status", h.UpdateStatus)
	rg.GET("/:id/attachments", h.ListAttachments)
	rg.POST("/:id/attachments", h.UploadAttachment)
}

// Import handles POST /api/v1/cases/import.
func (h *Handler) Import(c *gin.Context) {
	var req transport.ImportCaseRequest
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

	result, err := h.svc.ImportByOrderNumber(c.Request.Context(), req.OrderNumber, identity)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Created(c, transport.ImportCaseResponse{
		CaseID:        result.CaseID,
		OrderNumber:   result.OrderNumber,
		ItemCount:     result.ItemCount,
		TicketCreated: result.TicketCreated,
		Diagnostics:   result.Diagnostics,
	})
}

// List handles GET /api/v1/cases.
func (h *Handler) List(c *gin.Context) {
	var req transport.ListCasesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, err.Error())
		return
	}

	cases, total, err := h.svc.ListCases(c.Request.Context(), repository.ListParams{
		StatusID: req.StatusID,
		Rush:     req.Rush,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	resp := transport.ListCasesResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Cases:    make([]transport.CaseResponse, 0, len(cases)),
	}
	for _, cs := range cases {
		resp.Cases = append(resp.Cases, toCaseResponse(cs, nil))
	}
	httpkit.OK(c, resp)
}

// GetByID handles GET /api/v1/cases/:id.
func (h *Handler) GetByID(c *gin.Context) {
	detail, err := h.svc.GetCase(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toCaseResponse(detail.Case, detail.Items))
}

// UpdateStatus handles PATCH /api/v1/cases/:id/status.
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req transport.UpdateStatusRequest
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

	diags, err := h.svc.ChangeStatus(c.Request.Context(), service.ChangeStatusParams{
		CaseID:           c.Param("id"),
		StatusID:         req.StatusID,
		Note:             req.Note,
		NotifyTemplateID: req.NotifyTemplateID,
		ChangedBy:        identity.UserID(),
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.UpdateStatusResponse{
		CaseID:      c.Param("id"),
		StatusID:    req.StatusID,
		Diagnostics: diags,
	})
}

// UploadAttachment handles POST /api/v1/cases/:id/attachments.
func (h *Handler) UploadAttachment(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}

	if err := c.Request.ParseMultipartForm(maxAttachmentMemory); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "file is required", nil)
		return
	}

	file, err := header.Open()
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	defer file.Close()

	attachment, err := h.svc.UploadAttachment(c.Request.Context(), service.UploadAttachmentParams{
		CaseID:      c.Param("id"),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
		UploadedBy:  identity.UserID(),
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Created(c, transport.AttachmentResponse{
		ID:          attachment.ID,
		FileName:    attachment.FileName,
		ContentType: attachment.ContentType,
		SizeBytes:   attachment.SizeBytes,
		CreatedAt:   attachment.CreatedAt,
	})
}

// ListAttachments handles GET /api/v1/cases/:id/attachments.
func (h *Handler) ListAttachments(c *gin.Context) {
	views, err := h.svc.ListAttachments(c.Request.Context(), c.Param("id"))
	if httpkit.HandleError(c, err) {
		return
	}

	resp := make([]transport.AttachmentResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, transport.AttachmentResponse{
			ID:          v.Attachment.ID,
			FileName:    v.Attachment.FileName,
			ContentType: v.Attachment.ContentType,
			SizeBytes:   v.Attachment.SizeBytes,
			URL:         v.URL,
			CreatedAt:   v.Attachment.CreatedAt,
		})
	}
	httpkit.OK(c, resp)
}

func toCaseResponse(c repository.Case, items []service.ItemDetail) transport.CaseResponse {
	resp := transport.CaseResponse{
		CaseID:              c.CaseID,
		OrderNumber:         c.OrderNumber,
		PatientFirstName:    c.PatientFirstName,
		PatientLastName:     c.PatientLastName,
		ContactEmail:        c.ContactEmail,
		Instructions:        c.Instructions,
		StatusID:            c.StatusID,
		Rush:                c.Rush,
		NeedsReview:         c.NeedsReview,
		ReceivedDate:        c.ReceivedDate,
		RequiredDate:        c.RequiredDate,
		EstimatedReturnDate: c.EstimatedReturnDate,
		ShipDate:            c.ShipDate,
	}
	for _, it := range items {
		resp.Items = append(resp.Items, transport.CaseItemResponse{
			ID:            it.Item.ID,
			ProductName:   it.Item.ProductName,
			ToothLocation: it.Item.ToothLocation,
			Quantity:      it.Item.Quantity,
			Shade:         it.Item.ShadeBody,
			Teeth:         it.Teeth,
		})
	}
	return resp
}
