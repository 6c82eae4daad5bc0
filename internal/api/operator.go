package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lukeocodes/mod-gpt/internal/api/auth"
	"github.com/lukeocodes/mod-gpt/internal/reasoning"
	"github.com/lukeocodes/mod-gpt/internal/store"
	"github.com/lukeocodes/mod-gpt/pkg/models"
)

// Operator API handlers. Everything here is behind JWT auth; the community
// scope always comes from the path, never from the body.

func (s *Server) getSnapshot(c echo.Context) error {
	snap, err := s.store.Snapshot(c.Request().Context(), c.Param("community"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load snapshot")
	}
	return c.JSON(http.StatusOK, snap)
}

func (s *Server) setDryRun(c echo.Context) error {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.store.SetDryRun(c.Request().Context(), c.Param("community"), req.Enabled); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update dry-run mode")
	}
	return c.JSON(http.StatusOK, map[string]bool{"dry_run": req.Enabled})
}

func (s *Server) setProactive(c echo.Context) error {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.store.SetProactive(c.Request().Context(), c.Param("community"), req.Enabled); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update proactive moderation")
	}
	return c.JSON(http.StatusOK, map[string]bool{"proactive_moderation": req.Enabled})
}

func (s *Server) setLogChannel(c echo.Context) error {
	var req struct {
		ChannelID *string `json:"channel_id"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	// Empty string clears the log channel, same as null
	if req.ChannelID != nil && strings.TrimSpace(*req.ChannelID) == "" {
		req.ChannelID = nil
	}
	if err := s.store.SetLogChannel(c.Request().Context(), c.Param("community"), req.ChannelID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update log channel")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) setPersona(c echo.Context) error {
	var persona models.PersonaProfile
	if err := c.Bind(&persona); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid persona payload")
	}
	if strings.TrimSpace(persona.Name) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "persona name is required")
	}
	if err := s.store.SetPersona(c.Request().Context(), c.Param("community"), persona); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update persona")
	}
	return c.JSON(http.StatusOK, persona)
}

func (s *Server) listHeuristics(c echo.Context) error {
	rules, err := s.store.ActiveHeuristics(c.Request().Context(), c.Param("community"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list heuristics")
	}
	return c.JSON(http.StatusOK, rules)
}

func (s *Server) createHeuristic(c echo.Context) error {
	var req struct {
		RuleType   string             `json:"rule_type"`
		Pattern    string             `json:"pattern"`
		Kind       models.PatternKind `json:"pattern_kind"`
		Confidence float64            `json:"confidence"`
		Severity   models.Severity    `json:"severity"`
		Reason     string             `json:"reason"`
		Global     bool               `json:"global"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid heuristic payload")
	}
	if strings.TrimSpace(req.Pattern) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "pattern is required")
	}
	if !req.Kind.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown pattern_kind")
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "confidence must be between 0 and 1")
	}

	rule := models.HeuristicRule{
		RuleType:    req.RuleType,
		Pattern:     req.Pattern,
		PatternKind: req.Kind,
		Confidence:  req.Confidence,
		Severity:    req.Severity,
		Reason:      req.Reason,
		CreatedBy:   auth.OperatorFrom(c),
		Active:      true,
	}
	if !req.Global {
		community := c.Param("community")
		rule.CommunityID = &community
	}

	saved, created, err := s.store.UpsertHeuristic(c.Request().Context(), rule)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save heuristic")
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, saved)
}

func (s *Server) learnHeuristicFromFeedback(c echo.Context) error {
	var req struct {
		Content string `json:"content"`
		Reason  string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid feedback payload")
	}
	if strings.TrimSpace(req.Content) == "" || strings.TrimSpace(req.Reason) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content and reason are required")
	}
	if s.engine == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "reasoning unavailable")
	}

	rule, err := s.engine.LearnHeuristicFromFeedback(
		c.Request().Context(), c.Param("community"), req.Content, req.Reason, auth.OperatorFrom(c))
	if err != nil {
		if errors.Is(err, reasoning.ErrUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "reasoning unavailable")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to learn heuristic")
	}
	if rule == nil {
		// The model declined to generalize a pattern from this message
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusCreated, rule)
}

func (s *Server) setHeuristicActive(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid heuristic id")
	}
	var req struct {
		Active bool `json:"active"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.store.SetHeuristicActive(c.Request().Context(), id, req.Active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "heuristic not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update heuristic")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) reportFalsePositive(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid heuristic id")
	}
	if err := s.store.RecordFalsePositive(c.Request().Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "heuristic not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to record false positive")
	}
	rule, err := s.store.HeuristicByID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "heuristic not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load heuristic")
	}
	return c.JSON(http.StatusOK, rule)
}

func (s *Server) upsertAutomation(c echo.Context) error {
	var rule models.AutomationRule
	if err := c.Bind(&rule); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid automation payload")
	}
	if strings.TrimSpace(rule.ChannelID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel_id is required")
	}
	if !rule.Action.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown action")
	}
	rule.Active = true
	if err := s.store.UpsertAutomation(c.Request().Context(), c.Param("community"), rule); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save automation")
	}
	return c.JSON(http.StatusOK, rule)
}

func (s *Server) deactivateAutomation(c echo.Context) error {
	err := s.store.DeactivateAutomation(c.Request().Context(), c.Param("community"), c.Param("channel"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "automation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to deactivate automation")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) addNote(c echo.Context) error {
	var req struct {
		Content string `json:"content"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid note payload")
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "note content is required")
	}
	note, err := s.store.AddNote(c.Request().Context(), models.OperatorNote{
		CommunityID: c.Param("community"),
		Content:     req.Content,
		Author:      auth.OperatorFrom(c),
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save note")
	}
	return c.JSON(http.StatusCreated, note)
}

func (s *Server) deleteNote(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid note id")
	}
	if err := s.store.DeleteNote(c.Request().Context(), c.Param("community"), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "note not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete note")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) setReferenceChannel(c echo.Context) error {
	var rc models.ReferenceChannel
	if err := c.Bind(&rc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid reference channel payload")
	}
	if strings.TrimSpace(rc.ChannelID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel_id is required")
	}
	if err := s.store.SetReferenceChannel(c.Request().Context(), c.Param("community"), rc); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to save reference channel")
	}
	return c.JSON(http.StatusOK, rc)
}

func (s *Server) removeReferenceChannel(c echo.Context) error {
	err := s.store.RemoveReferenceChannel(c.Request().Context(), c.Param("community"), c.Param("channel"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "reference channel not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to remove reference channel")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listRecords(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and 500")
		}
		limit = parsed
	}
	records, err := s.store.ListModerationRecords(c.Request().Context(), c.Param("community"), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list moderation records")
	}
	return c.JSON(http.StatusOK, records)
}
