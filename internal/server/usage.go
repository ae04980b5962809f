package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
)

func (s *Server) recordUsage(c *gin.Context) {
	var req usagedomain.RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := s.usageSvc.Record(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, record)
}

type recordBatchRequest struct {
	Records []usagedomain.RecordUsageRequest `json:"records"`
}

func (s *Server) recordBatchUsage(c *gin.Context) {
	var req recordBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(req.Records) == 0 {
		AbortWithError(c, newValidationError("records", "invalid_request", "records must not be empty"))
		return
	}

	records, err := s.usageSvc.RecordBatch(c.Request.Context(), req.Records)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (s *Server) currentUsage(c *gin.Context) {
	summaries, err := s.billingSvc.CurrentUsage(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"summaries": summaries})
}

func (s *Server) usageHistory(c *gin.Context) {
	req := usagedomain.ListUsageRequest{
		MetricCode: strings.TrimSpace(c.Query("metric_code")),
		PageToken:  c.Query("page_token"),
	}
	size, err := parseOptionalInt32(c.Query("page_size"))
	if err != nil {
		AbortWithError(c, newValidationError("page_size", "invalid_request", "invalid page size"))
		return
	}
	if size != nil {
		req.PageSize = *size
	}

	resp, err := s.usageSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
