package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/smallbiznis/meterline/internal/billing/domain"
	"github.com/smallbiznis/meterline/internal/orgcontext"
)

func (s *Server) currentBill(c *gin.Context) {
	estimate, err := s.billingSvc.CalculateCurrentBill(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, estimate)
}

type generateInvoiceRequest struct {
	PeriodEnd time.Time `json:"period_end"`
}

func (s *Server) generateInvoice(c *gin.Context) {
	var req generateInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.PeriodEnd.IsZero() {
		AbortWithError(c, newValidationError("period_end", "invalid_request", "period_end is required"))
		return
	}

	orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	invoice, err := s.billingSvc.GenerateInvoice(c.Request.Context(), orgID, req.PeriodEnd, nil)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, invoice)
}

func (s *Server) listInvoices(c *gin.Context) {
	req := billingdomain.ListInvoicesRequest{
		PageToken: c.Query("page_token"),
	}
	size, err := parseOptionalInt32(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_request", "invalid page size"))
		return
	}
	if size != nil {
		req.PageSize = *size
	}

	resp, err := s.billingSvc.Invoices(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) invoicePDF(c *gin.Context) {
	invoiceID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_request", "invalid invoice id"))
		return
	}

	invoice, err := s.billingSvc.GetInvoice(c.Request.Context(), invoiceID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.pdfSvc == nil {
		AbortWithError(c, ErrInternal)
		return
	}

	doc, err := s.pdfSvc.RenderInvoice(c.Request.Context(), invoice)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	body, err := io.ReadAll(doc)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="invoice-`+invoice.ID.String()+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", body)
}
