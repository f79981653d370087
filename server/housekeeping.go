package server

import (
	"time"

	"github.com/aryansinha9/irl-among-us/logger"
	"github.com/aryansinha9/irl-among-us/timer"
)

const lobbyGaugeInterval = 15 * time.Second

// startHousekeeping schedules the background jobs. Game phases are not
// timer driven; they are derived from timestamps on every read.
func (s *GameServer) startHousekeeping() {
	s.timers = timer.NewTimerManager(time.Second)

	if idle := s.opts.SessionIdleTimeout; idle > 0 {
		s.timers.AddTimer("session-sweep", idle, idle/2, func() {
			s.sweepIdleSessions(time.Now().Add(-idle))
		})
	}
	s.timers.AddTimer("lobby-gauge", 0, lobbyGaugeInterval, s.refreshLobbyGauge)
}

// sweepIdleSessions closes connections quiet since before cutoff. The read
// loop notices the closed socket and cleans the session up.
func (s *GameServer) sweepIdleSessions(cutoff time.Time) int {
	idle := s.sessionManager.Idle(cutoff)
	for _, sess := range idle {
		lobbyID, playerID := sess.Identity()
		logger.Log.Infow("closing idle session", "session", sess.GetID(), "lobby", lobbyID, "player", playerID)
		_ = sess.Close()
	}
	return len(idle)
}

func (s *GameServer) refreshLobbyGauge() {
	following := s.broadcaster.Prune()
	s.monitor.SetActiveLobbies(len(s.sessionManager.Lobbies()))
	logger.Log.Debugw("lobby gauge refreshed", "following", following, "sessions", s.sessionManager.Count())
}
