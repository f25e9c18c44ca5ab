package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/meridian-labs/surveyor/pkg/models"
)

// listMissionsHandler handles GET /missions.
func (s *Server) listMissionsHandler(c *echo.Context) error {
	filters := models.MissionFilters{}

	if v := c.QueryParam("status"); v != "" {
		switch models.MissionStatus(v) {
		case models.MissionPending, models.MissionRunning, models.MissionSucceeded,
			models.MissionFailed, models.MissionCancelled:
			filters.Status = v
		default:
			return echo.NewHTTPError(http.StatusBadRequest,
				"invalid status: must be pending, running, succeeded, failed, or cancelled")
		}
	}
	filters.ThreadID = c.QueryParam("thread_id")

	// Pagination hints; out-of-range values fall back to service defaults.
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filters.Limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filters.Offset = n
		}
	}

	resp, err := s.missionService.ListMissions(c.Request().Context(), filters)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, resp)
}

// getMissionHandler handles GET /missions/:id.
func (s *Server) getMissionHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	ctx := c.Request().Context()
	mission, err := s.missionService.GetMission(ctx, missionID)
	if err != nil {
		return mapServiceError(err)
	}

	tasks, err := s.missionService.GetTasks(ctx, missionID)
	if err != nil {
		return mapServiceError(err)
	}
	if tasks == nil {
		tasks = []*models.MissionTask{}
	}

	return c.JSON(http.StatusOK, &MissionDetailResponse{
		Mission: mission,
		Tasks:   tasks,
	})
}

// listMissionEventsHandler handles GET /missions/:id/events.
func (s *Server) listMissionEventsHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	ctx := c.Request().Context()
	if _, err := s.missionService.GetMission(ctx, missionID); err != nil {
		return mapServiceError(err)
	}

	// The after cursor is parsed strictly: silently ignoring a malformed
	// cursor would replay the whole log to a resuming poller.
	var after int64
	if v := c.QueryParam("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid after: must be a non-negative event id")
		}
		after = n
	}
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	evts, err := s.eventService.GetEventsSince(ctx, missionID, after, limit)
	if err != nil {
		return mapServiceError(err)
	}
	if evts == nil {
		evts = []*models.Event{}
	}

	resp := &EventListResponse{
		MissionID: missionID,
		Events:    evts,
	}
	if n := len(evts); n > 0 {
		resp.LastEventID = evts[n-1].ID
	}

	return c.JSON(http.StatusOK, resp)
}

// cancelMissionHandler handles POST /missions/:id/cancel. Cancellation is
// asynchronous: 200 means the request was accepted, not that the mission has
// already stopped. The terminal status arrives through the event stream.
func (s *Server) cancelMissionHandler(c *echo.Context) error {
	missionID := c.Param("id")
	if missionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "mission id is required")
	}

	mission, err := s.missionService.GetMission(c.Request().Context(), missionID)
	if err != nil {
		return mapServiceError(err)
	}
	if mission.Status.Terminal() {
		return echo.NewHTTPError(http.StatusConflict, "mission already "+string(mission.Status))
	}

	if s.orchestrator == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "cancellation not available")
	}
	s.orchestrator.CancelMission(missionID)

	return c.JSON(http.StatusOK, &CancelResponse{
		MissionID: missionID,
		Message:   "Mission cancellation requested",
	})
}
