package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/lukeocodes/mod-gpt/pkg/models"
)

// Event intake handlers. Each decodes one event shape, validates the fields
// the pipeline cannot work without, and hands the event to the engine
// synchronously. Slow work (reasoning) happens on the engine's own
// goroutines, so intake stays fast.

// requireEngine rejects event intake when the server runs in operator-only
// mode (the serve command starts no pipeline).
func (s *Server) requireEngine() error {
	if s.engine == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event pipeline not running")
	}
	return nil
}

func (s *Server) handleMessageCreated(c echo.Context) error {
	if err := s.requireEngine(); err != nil {
		return err
	}
	var ev models.MessageEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message event payload")
	}
	if err := validateMessageEvent(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.engine.HandleMessageCreated(c.Request().Context(), ev); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "event handling failed")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleMessageEdited(c echo.Context) error {
	if err := s.requireEngine(); err != nil {
		return err
	}
	var ev models.MessageEditEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message edit payload")
	}
	if err := validateMessageEvent(&ev.MessageEvent); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	if err := s.engine.HandleMessageEdited(c.Request().Context(), ev); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "event handling failed")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleMemberJoined(c echo.Context) error {
	return s.handleMemberEvent(c, true)
}

func (s *Server) handleMemberLeft(c echo.Context) error {
	return s.handleMemberEvent(c, false)
}

func (s *Server) handleMemberEvent(c echo.Context, joined bool) error {
	if err := s.requireEngine(); err != nil {
		return err
	}
	var ev models.MemberEvent
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid member event payload")
	}
	if strings.TrimSpace(ev.CommunityID) == "" || strings.TrimSpace(ev.UserID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "community_id and user_id are required")
	}

	var err error
	if joined {
		err = s.engine.HandleMemberJoined(c.Request().Context(), ev)
	} else {
		err = s.engine.HandleMemberLeft(c.Request().Context(), ev)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "event handling failed")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

func validateMessageEvent(ev *models.MessageEvent) error {
	switch {
	case strings.TrimSpace(ev.CommunityID) == "":
		return fmt.Errorf("community_id is required")
	case strings.TrimSpace(ev.ChannelID) == "":
		return fmt.Errorf("channel_id is required")
	case strings.TrimSpace(ev.MessageID) == "":
		return fmt.Errorf("message_id is required")
	case strings.TrimSpace(ev.AuthorID) == "":
		return fmt.Errorf("author_id is required")
	}
	return nil
}
