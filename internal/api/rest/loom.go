package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/KevinKickass/OpenLoomCore/internal/interfaces"
	"github.com/KevinKickass/OpenLoomCore/internal/protocol"
	"github.com/KevinKickass/OpenLoomCore/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/loom/status
func (s *Server) getLoomStatus(c *gin.Context) {
	status, err := s.lm.LoomStatus()
	if err != nil {
		s.loomError(c, "Loom status unavailable", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// POST /api/v1/loom/shafts
func (s *Server) stageShaftWord(c *gin.Context) {
	var req struct {
		ShaftWord string `json:"shaft_word" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("LOOM_400", "Invalid request body", err.Error()))
		return
	}

	word, err := protocol.ParseShaftWord(strings.TrimPrefix(strings.ToLower(req.ShaftWord), "0x"))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("LOOM_400", "Invalid shaft_word", err.Error()))
		return
	}

	if mask := s.lm.ShaftMask(); word&^mask != 0 {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("LOOM_400", "Shaft word raises shafts the loom does not have",
			fmt.Sprintf("allowed mask %08x", mask)))
		return
	}

	sent, err := s.lm.StageShaftWord(c.Request.Context(), word)
	if err != nil {
		s.logger.Error("Staging shaft word failed", zap.Uint32("shaft_word", word), zap.Error(err))
		s.loomError(c, "Staging shaft word failed", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":    "Shaft word accepted",
		"shaft_word": fmt.Sprintf("%08x", word),
		"sent":       sent,
	})
}

// POST /api/v1/loom/direction
func (s *Server) setDirection(c *gin.Context) {
	var req struct {
		Forward *bool `json:"forward" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("LOOM_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.lm.SetDirection(c.Request.Context(), *req.Forward); err != nil {
		s.loomError(c, "Setting direction failed", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Direction command sent",
		"forward": *req.Forward,
	})
}

// POST /api/v1/loom/query
func (s *Server) queryStatus(c *gin.Context) {
	if err := s.lm.QueryStatus(c.Request.Context()); err != nil {
		s.loomError(c, "Status query failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "Status query sent"})
}

// POST /api/v1/loom/connect
func (s *Server) connectLoom(c *gin.Context) {
	if err := s.lm.ConnectLoom(c.Request.Context()); err != nil {
		s.logger.Error("Loom connect failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, types.NewErrorResponse("LOOM_502", "Loom connect failed", err.Error()))
		return
	}
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

// POST /api/v1/loom/debug
func (s *Server) sendDebugCommand(c *gin.Context) {
	var req struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("LOOM_400", "Invalid request body", err.Error()))
		return
	}

	if err := s.lm.SendDebugCommand(c.Request.Context(), req.Command); err != nil {
		s.loomError(c, "Debug command failed", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Debug command sent",
		"command": req.Command,
	})
}

func (s *Server) loomError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, interfaces.ErrLoomNotConnected):
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("LOOM_503", message, err.Error()))
	case errors.Is(err, interfaces.ErrNotSimulated):
		c.JSON(http.StatusConflict, types.NewErrorResponse("LOOM_409", message, err.Error()))
	case errors.Is(err, interfaces.ErrUnknownCommand):
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("LOOM_400", message, err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("LOOM_500", message, err.Error()))
	}
}
