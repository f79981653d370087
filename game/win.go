package game

import "github.com/aryansinha9/irl-among-us/models"

// Mode selects which win rules are evaluated.
type Mode string

const (
	// ModeAll evaluates every rule; used after eliminations and ejections.
	ModeAll Mode = "all"
	// ModeTask skips the elimination and majority rules; used after task
	// completion so small test lobbies do not end on the first toggle.
	ModeTask Mode = "task"
)

// Win reasons.
const (
	ReasonImpostersEliminated = "All Imposters Eliminated"
	ReasonTasksCompleted      = "Tasks Completed"
	ReasonImposterMajority    = "Imposter Majority"
	ReasonJesterEjected       = "Jester Ejected"
)

// Outcome is a decided game.
type Outcome struct {
	Winner models.Winner
	Reason string
}

// JesterOutcome is the outcome when the jester is voted out.
func JesterOutcome() Outcome {
	return Outcome{Winner: models.WinnerJester, Reason: ReasonJesterEjected}
}

// Census is the head count the win rules work from.
type Census struct {
	TotalPlayers    int
	ActivePlayers   int
	ActiveImposters int
	ActiveCrew      int
	TotalImposters  int
	HasCrewmate     bool
	TasksRemaining  int
}

// TakeCensus counts a lobby snapshot. Spectators are ignored throughout.
// Dead crew still owe their tasks.
func TakeCensus(l *models.Lobby) Census {
	var c Census
	for _, p := range l.Players {
		if p.Role == models.RoleSpectator {
			continue
		}
		c.TotalPlayers++
		if p.Role == models.RoleImposter {
			c.TotalImposters++
		}
		if p.Role == models.RoleCrewmate {
			c.HasCrewmate = true
		}
		if p.Role != models.RoleImposter && p.Role != models.RoleJester {
			for _, t := range p.Tasks {
				if !t.Completed {
					c.TasksRemaining++
				}
			}
		}

		if p.IsDead() {
			continue
		}
		c.ActivePlayers++
		switch p.Role {
		case models.RoleImposter:
			c.ActiveImposters++
		case models.RoleJester:
		default:
			c.ActiveCrew++
		}
	}
	return c
}

// Evaluate applies the win rules in order; the first match wins.
func Evaluate(l *models.Lobby, mode Mode) (Outcome, bool) {
	c := TakeCensus(l)

	if mode == ModeAll && c.ActiveImposters == 0 && c.TotalImposters > 0 {
		return Outcome{Winner: models.WinnerCrewmate, Reason: ReasonImpostersEliminated}, true
	}
	if c.TasksRemaining == 0 && c.HasCrewmate {
		return Outcome{Winner: models.WinnerCrewmate, Reason: ReasonTasksCompleted}, true
	}
	if mode == ModeAll && c.ActiveImposters > 0 && c.ActiveImposters >= c.ActiveCrew {
		return Outcome{Winner: models.WinnerImposter, Reason: ReasonImposterMajority}, true
	}
	return Outcome{}, false
}
