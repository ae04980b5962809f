package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) listMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"metrics": s.catalogSvc.ListMetrics()})
}

func (s *Server) listPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"plans": s.catalogSvc.ListPlans()})
}
