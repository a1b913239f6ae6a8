package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cabswale/raahi-agent/internal/agent"
	"github.com/cabswale/raahi-agent/internal/session"
)

// Entry-state and chip constants, mirrored by the mobile app.
const (
	actionEntry    = "entry"
	audioGreeting  = "greeting"
	chipFind       = "find"
	chipTools      = "tools"
	actionFindChip = "show_find_options"
	actionTools    = "show_tools"
)

// QueryRequest is one assistant turn from the app.
type QueryRequest struct {
	SessionID     string                 `json:"sessionId"`
	Text          string                 `json:"text"`
	ChipClick     string                 `json:"chipClick,omitempty"`
	UserData      map[string]any         `json:"userData,omitempty"`
	DriverProfile *session.DriverProfile `json:"driverProfile,omitempty"`
	Location      *session.Location      `json:"location,omitempty"`
}

// QueryResponse is what the app renders: the intent for its taxonomy, the UI
// action to perform, the spoken reply and the audio to play.
type QueryResponse struct {
	SessionID    string         `json:"sessionId"`
	Success      bool           `json:"success"`
	Intent       string         `json:"intent"`
	UIAction     string         `json:"uiAction"`
	ResponseText string         `json:"responseText"`
	Data         map[string]any `json:"data"`
	Screen       string         `json:"screen,omitempty"`
	AudioKey     string         `json:"audioKey,omitempty"`
	AudioURL     string         `json:"audioUrl,omitempty"`
}

func (s *Server) query(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	// Chip taps are pure UI events, no model round needed.
	if req.ChipClick != "" {
		return c.JSON(http.StatusOK, s.chipResponse(req))
	}

	unlock := s.locks.lock(req.SessionID)
	defer unlock()

	ctx := c.Request().Context()
	sess, err := s.sessions.Get(ctx, req.SessionID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			s.logger.Warn("session load failed, starting fresh", "session", req.SessionID, "error", err)
		}
		sess = session.New(req.SessionID, agent.BaseTools())
	}
	sess.MergeContext(req.UserData, req.DriverProfile, req.Location)

	// Empty text is the app opening the assistant: greet without a model
	// round.
	if req.Text == "" {
		if err := s.sessions.Save(ctx, sess); err != nil {
			s.logger.Error("session save failed", "session", sess.ID, "error", err)
		}
		return c.JSON(http.StatusOK, s.buildResponse(sess.ID, &agent.Result{
			Action:   agent.Action{Type: actionEntry, Data: map[string]any{}},
			AudioKey: audioGreeting,
		}))
	}

	res, err := s.loop.Run(ctx, sess, req.Text)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return c.JSON(http.StatusOK, s.buildResponse(sess.ID, res))
}

func (s *Server) chipResponse(req QueryRequest) QueryResponse {
	action := actionFindChip
	audioKey := "find_chip"
	if req.ChipClick == chipTools {
		action = actionTools
		audioKey = "tools_chip"
	}
	res := &agent.Result{
		Action:   agent.Action{Type: action, Data: map[string]any{}},
		AudioKey: audioKey,
	}
	return s.buildResponse(req.SessionID, res)
}

func (s *Server) buildResponse(sessionID string, res *agent.Result) QueryResponse {
	resp := QueryResponse{
		SessionID:    sessionID,
		Success:      true,
		Intent:       s.registry.GetIntentForAction(res.Action.Type),
		UIAction:     res.Action.Type,
		ResponseText: res.ResponseText,
		Data:         res.Action.Data,
		Screen:       res.Screen,
		AudioKey:     res.AudioKey,
	}
	if resp.Data == nil {
		resp.Data = map[string]any{}
	}
	if resp.AudioKey != "" {
		if url, ok := s.registry.GetAudio(resp.AudioKey); ok {
			resp.AudioURL = url
		}
	}
	return resp
}

func (s *Server) deleteSession(c echo.Context) error {
	id := c.Param("id")
	unlock := s.locks.lock(id)
	defer unlock()

	ctx := c.Request().Context()
	s.sessions.Flush(ctx, id)
	if err := s.sessions.Delete(ctx, id); err != nil {
		s.logger.Error("session delete failed", "session", id, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to delete session")
	}
	return c.NoContent(http.StatusNoContent)
}
