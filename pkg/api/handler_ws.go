package api

import (
	"net/http"
	"net/url"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// observerSocketHandler handles GET /ws. The socket speaks the subscribe /
// unsubscribe protocol and receives events for the channels it subscribes to.
func (s *Server) observerSocketHandler(c *echo.Context) error {
	if s.connManager == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event socket not available")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), s.acceptOptions())
	if err != nil {
		// Accept has already written the HTTP error response.
		return err
	}

	// HandleConnection blocks until the WebSocket closes.
	s.connManager.HandleConnection(c.Request().Context(), conn)
	return nil
}

// conversationSocketHandler handles GET /threads/:id/hitl. The socket carries
// the interactive conversation protocol for one thread; the hub validates the
// thread and closes the socket itself when the thread is unknown.
func (s *Server) conversationSocketHandler(c *echo.Context) error {
	if s.hub == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "conversation hub not available")
	}
	threadID := c.Param("id")
	if threadID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "thread id is required")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), s.acceptOptions())
	if err != nil {
		return err
	}

	s.hub.HandleConnection(c.Request().Context(), threadID, conn)
	return nil
}

// acceptOptions builds the WebSocket origin allowlist. Same-origin requests
// always pass; the dashboard origin and any configured extra patterns are
// allowed on top.
func (s *Server) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	if s.cfg == nil {
		return opts
	}
	opts.OriginPatterns = append(opts.OriginPatterns, s.cfg.AllowedWSOrigins...)
	if s.cfg.DashboardURL != "" {
		if u, err := url.Parse(s.cfg.DashboardURL); err == nil && u.Host != "" {
			opts.OriginPatterns = append(opts.OriginPatterns, u.Host)
		}
	}
	return opts
}
