package hitl

import (
	"encoding/json"

	"github.com/meridian-labs/surveyor/pkg/events"
	"github.com/meridian-labs/surveyor/pkg/models"
)

// forwardMissionEvents relays mission progress for missions spawned from
// this thread onto the socket as mission_event frames. The subscription is
// unfiltered: new missions announce themselves with a mission_started
// payload carrying the thread id, and everything after that for a tracked
// mission arrives on the same ordered feed, so nothing between discovery
// and subscription can be missed.
func (s *Session) forwardMissionEvents() {
	defer s.wg.Done()

	sub := s.bus.Subscribe("hitl:" + s.threadID)
	defer sub.Close()

	tracked := s.attachedMissions()

	for {
		select {
		case <-s.ctx.Done():
			return

		case env, open := <-sub.C():
			if !open {
				return
			}
			if env.Channel == events.GlobalMissionsChannel {
				// Transient copy for list pages; the per-mission channel
				// carries the authoritative event.
				continue
			}

			var peek struct {
				MissionID string `json:"mission_id"`
				ThreadID  string `json:"thread_id"`
			}
			if err := json.Unmarshal(env.Payload, &peek); err != nil || peek.MissionID == "" {
				continue
			}
			if peek.ThreadID == s.threadID {
				tracked[peek.MissionID] = true
			}
			if !tracked[peek.MissionID] {
				continue
			}

			s.send(ServerFrame{Type: FrameMissionEvent, Event: env.Payload})
		}
	}
}

// attachedMissions lists the thread's pending and running missions so a
// reconnected client keeps receiving progress for work launched before the
// disconnect. Lookup failures degrade to live discovery only.
func (s *Session) attachedMissions() map[string]bool {
	tracked := make(map[string]bool)
	if s.missions == nil {
		return tracked
	}

	for _, status := range []models.MissionStatus{models.MissionPending, models.MissionRunning} {
		resp, err := s.missions.ListMissions(s.ctx, models.MissionFilters{
			ThreadID: s.threadID,
			Status:   string(status),
			Limit:    100,
		})
		if err != nil {
			s.log.Warn("Failed to list missions for thread", "error", err)
			return tracked
		}
		for _, m := range resp.Missions {
			tracked[m.ID] = true
		}
	}
	return tracked
}
