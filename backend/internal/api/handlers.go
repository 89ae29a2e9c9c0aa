package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"matchmaker/backend/internal/constants"
	"matchmaker/backend/internal/domain"
	apperrors "matchmaker/backend/pkg/errors"
)

func (s *Server) addResponse(c *gin.Context) {
	var req struct {
		Prompt  string `json:"prompt"`
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	record, err := s.responses.AddResponse(c.Request.Context(), domain.ResponseRecord{
		UserID:  c.Param("id"),
		Prompt:  req.Prompt,
		Content: req.Content,
	})
	if err != nil {
		s.fail(c, "add_response", err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (s *Server) generateMatches(c *gin.Context) {
	limit, ok := s.limitParam(c)
	if !ok {
		return
	}

	result, err := s.engine.GenerateMatches(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.fail(c, "generate_matches", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) listMatches(c *gin.Context) {
	var status *domain.MatchStatus
	if raw := c.Query("status"); raw != "" {
		parsed, err := domain.ParseMatchStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status = &parsed
	}

	matches, err := s.engine.GetMatches(c.Request.Context(), c.Param("id"), status)
	if err != nil {
		s.fail(c, "get_matches", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (s *Server) getMatchDetails(c *gin.Context) {
	details, err := s.engine.GetMatchDetails(c.Request.Context(), c.Param("matchId"), c.Param("id"))
	if err != nil {
		s.fail(c, "get_match_details", err)
		return
	}
	c.JSON(http.StatusOK, details)
}

func (s *Server) updateMatchStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := domain.ParseMatchStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	match, err := s.engine.UpdateMatchStatus(c.Request.Context(), c.Param("matchId"), status)
	if err != nil {
		s.fail(c, "update_match_status", err)
		return
	}
	c.JSON(http.StatusOK, match)
}

func (s *Server) getStats(c *gin.Context) {
	stats, err := s.engine.GetMatchingStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "get_stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getSuggestions(c *gin.Context) {
	suggestions, err := s.engine.SuggestNextActions(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "suggest_next_actions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

func (s *Server) getPersona(c *gin.Context) {
	userID := c.Param("id")
	p, err := s.personas.GetPersona(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, "get_persona", err)
		return
	}
	if p == nil {
		s.fail(c, "get_persona", apperrors.NewPersonaNotFound(userID))
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) refreshPersona(c *gin.Context) {
	p, err := s.personas.UpdatePersona(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "update_persona", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) getTraits(c *gin.Context) {
	userID := c.Param("id")
	traits, err := s.personas.GetTraitVisualization(c.Request.Context(), userID)
	if err != nil {
		s.fail(c, "get_traits", err)
		return
	}
	if traits == nil {
		s.fail(c, "get_traits", apperrors.NewPersonaNotFound(userID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"traits": traits})
}

func (s *Server) findCompatible(c *gin.Context) {
	limit, ok := s.limitParam(c)
	if !ok {
		return
	}

	candidates, err := s.personas.FindCompatibleUsers(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		s.fail(c, "find_compatible", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"candidates": candidates})
}

// limitParam reads ?limit=, writing a 400 and returning false when it is not
// an integer in [1, MaxMatchLimit]
func (s *Server) limitParam(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return s.defaultLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > constants.MaxMatchLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("limit must be an integer between 1 and %d", constants.MaxMatchLimit)})
		return 0, false
	}
	return limit, true
}
