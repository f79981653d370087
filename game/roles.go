package game

import (
	"math/rand"
	"sort"

	"github.com/aryansinha9/irl-among-us/models"
	"github.com/aryansinha9/irl-among-us/tasks"
)

// Assignment is the outcome of a role draw for every non-host player.
type Assignment struct {
	Roles map[string]models.Role
	Tasks map[string][]models.Task
}

// Count returns how many players received role.
func (a Assignment) Count(role models.Role) int {
	n := 0
	for _, r := range a.Roles {
		if r == role {
			n++
		}
	}
	return n
}

// PlayableIDs returns every player except the host, sorted so that a seeded
// shuffle is reproducible.
func PlayableIDs(l *models.Lobby) []string {
	ids := make([]string, 0, len(l.Players))
	for id, p := range l.Players {
		if id == l.HostID || p.IsHost {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Shuffle is an in-place Fisher-Yates permutation.
func Shuffle(rng *rand.Rand, ids []string) {
	for i := len(ids) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		ids[i], ids[j] = ids[j], ids[i]
	}
}

// AssignRoles shuffles the playable players and hands out imposters first,
// then at most one jester and one sheriff, then crewmates. Asking for more
// imposters than there are players is accepted: everyone becomes an imposter.
func AssignRoles(rng *rand.Rand, pool *tasks.Pool, l *models.Lobby, settings models.Settings, tasksPerPlayer int) Assignment {
	playable := PlayableIDs(l)
	Shuffle(rng, playable)

	a := Assignment{
		Roles: make(map[string]models.Role, len(playable)),
		Tasks: make(map[string][]models.Task, len(playable)),
	}

	next := 0
	give := func(role models.Role) {
		id := playable[next]
		next++
		a.Roles[id] = role
		a.Tasks[id] = pool.Draw(rng, tasksPerPlayer)
	}

	imposters := settings.NumImposters
	if imposters > len(playable) {
		imposters = len(playable)
	}
	for i := 0; i < imposters; i++ {
		give(models.RoleImposter)
	}
	if settings.Roles.Jester && next < len(playable) {
		give(models.RoleJester)
	}
	if settings.Roles.Sheriff && next < len(playable) {
		give(models.RoleSheriff)
	}
	for next < len(playable) {
		give(models.RoleCrewmate)
	}
	return a
}
