package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/meridian-labs/surveyor/pkg/models"
)

// createThreadHandler handles POST /threads.
func (s *Server) createThreadHandler(c *echo.Context) error {
	var req CreateThreadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	thread, err := s.threadService.CreateThread(c.Request().Context(), req.Title)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusCreated, thread)
}

// listMessagesHandler handles GET /threads/:id/messages.
func (s *Server) listMessagesHandler(c *echo.Context) error {
	threadID := c.Param("id")
	if threadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "thread id is required")
	}

	ctx := c.Request().Context()
	exists, err := s.threadService.ThreadExists(ctx, threadID)
	if err != nil {
		return mapServiceError(err)
	}
	if !exists {
		return echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}

	messages, err := s.threadService.LoadMessages(ctx, threadID)
	if err != nil {
		return mapServiceError(err)
	}
	if messages == nil {
		messages = []*models.Message{}
	}

	return c.JSON(http.StatusOK, &MessageListResponse{
		ThreadID: threadID,
		Messages: messages,
	})
}
