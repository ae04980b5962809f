package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) listCircuits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"circuits": s.breakers.AllStatuses()})
}

func (s *Server) resetCircuit(c *gin.Context) {
	name := c.Param("name")
	if err := s.breakers.Reset(name); err != nil {
		AbortWithError(c, err)
		return
	}

	state, err := s.breakers.CircuitState(name)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"name": name, "state": state})
}
