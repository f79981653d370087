package lobby

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aryansinha9/irl-among-us/cosmetics"
	"github.com/aryansinha9/irl-among-us/errs"
	"github.com/aryansinha9/irl-among-us/game"
	"github.com/aryansinha9/irl-among-us/models"
	"github.com/aryansinha9/irl-among-us/persistence"
	"github.com/aryansinha9/irl-among-us/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *persistence.MemoryStore, *game.FixedClock) {
	t.Helper()
	store := persistence.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	clock := game.NewFixedClock(epoch)
	base := []Option{WithClock(clock), WithRand(rand.New(rand.NewSource(7))), WithRecorder(store)}
	return NewManager(store, append(base, opts...)...), store, clock
}

// seed stores a lobby with a host and the given players.
func seed(t *testing.T, store persistence.Store, status models.LobbyStatus, players ...*models.Player) *models.Lobby {
	t.Helper()
	l := &models.Lobby{
		ID:        "GAME",
		HostID:    "host",
		Status:    status,
		CreatedAt: game.Millis(epoch),
		Settings:  models.DefaultSettings(),
		Players: map[string]*models.Player{
			"host": {ID: "host", Name: "Host", IsHost: true, Role: models.RoleSpectator, Status: models.PlayerAlive, Tasks: []models.Task{}},
		},
	}
	for _, p := range players {
		if p.Status == "" {
			p.Status = models.PlayerAlive
		}
		if p.Tasks == nil {
			p.Tasks = []models.Task{}
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		l.Players[p.ID] = p
	}
	if status == models.StatusMeeting {
		l.Meeting = game.NewMeeting("host", models.ReasonEmergency, l.Settings, epoch)
	}
	require.NoError(t, store.Put(context.Background(), l.ID, l))
	return l
}

func withTasks(done ...bool) []models.Task {
	out := make([]models.Task, len(done))
	for i, d := range done {
		out[i] = models.Task{ID: fmt.Sprintf("t%d", i), Description: "task", RoomID: "Admin", Completed: d}
	}
	return out
}

func get(t *testing.T, m *Manager, code string) *models.Lobby {
	t.Helper()
	l, err := m.Get(context.Background(), code)
	require.NoError(t, err)
	return l
}

func assertKind(t *testing.T, err error, kind errs.Kind) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, errs.KindOf(err), "error: %v", err)
}

func assertHostInvariant(t *testing.T, l *models.Lobby) {
	t.Helper()
	hosts := 0
	for id, p := range l.Players {
		if p.IsHost {
			hosts++
			assert.Equal(t, l.HostID, id)
			assert.Equal(t, models.RoleSpectator, p.Role)
		}
	}
	assert.Equal(t, 1, hosts)
}

func TestCreateAndJoin(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	code, hostID, err := m.CreateLobby(ctx, "  Hana ", "char_1")
	require.NoError(t, err)
	assert.True(t, cosmetics.ValidCode(code))

	l := get(t, m, code)
	assert.Equal(t, models.StatusWaiting, l.Status)
	assert.Equal(t, hostID, l.HostID)
	assert.Equal(t, models.DefaultSettings(), l.Settings)
	require.Contains(t, l.Players, hostID)
	assert.Equal(t, "Hana", l.Players[hostID].Name)
	assert.Equal(t, "/characters/char_1.png", l.Players[hostID].CharacterImage)
	assertHostInvariant(t, l)

	// lower-case codes are canonicalised
	p1, err := m.JoinLobby(ctx, " "+strings.ToLower(code)+" ", "Ola", "char_9")
	require.NoError(t, err)

	l = get(t, m, code)
	require.Contains(t, l.Players, p1)
	assert.Equal(t, models.RoleSpectator, l.Players[p1].Role)
	assert.False(t, l.Players[p1].IsHost)
	assert.NotEqual(t, l.Players[hostID].Color, l.Players[p1].Color)

	_, err = m.JoinLobby(ctx, code, "Kai", "char_9")
	assertKind(t, err, errs.KindConflict)
	assert.ErrorIs(t, err, ErrSkinTaken)

	_, err = m.JoinLobby(ctx, "QQQQ", "Kai", "char_10")
	assertKind(t, err, errs.KindNotFound)
	assert.ErrorIs(t, err, ErrLobbyNotFound)

	_, err = m.JoinLobby(ctx, "Q1", "Kai", "char_10")
	assertKind(t, err, errs.KindInvalidArgument)

	_, err = m.JoinLobby(ctx, code, "   ", "char_10")
	assertKind(t, err, errs.KindInvalidArgument)
}

func TestJoin_PaletteExhaustedReusesColor(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	code, _, err := m.CreateLobby(ctx, "Host", "char_1")
	require.NoError(t, err)

	for i := 0; i < len(cosmetics.Palette)+2; i++ {
		_, err := m.JoinLobby(ctx, code, fmt.Sprintf("p%d", i), fmt.Sprintf("skin_%d", i))
		require.NoError(t, err, "join %d", i)
	}

	l := get(t, m, code)
	seen := map[string]int{}
	for _, p := range l.Players {
		assert.Contains(t, cosmetics.Palette, p.Color)
		seen[p.Color]++
	}
	assert.Len(t, seen, len(cosmetics.Palette), "every palette color is used before any is reused")
}

func TestGetLobbyPublicInfo(t *testing.T) {
	m, store, _ := newTestManager(t)
	seed(t, store, models.StatusWaiting,
		&models.Player{ID: "a", Color: "#dc2626", CharacterImage: "/characters/char_9.png"})

	info, err := m.GetLobbyPublicInfo(context.Background(), "game")
	require.NoError(t, err)
	assert.Equal(t, 2, info.PlayerCount)
	assert.Equal(t, models.StatusWaiting, info.Status)
	assert.Contains(t, info.TakenSkins, "char_9")
	assert.Contains(t, info.TakenColors, "#dc2626")
}

func TestKickPlayer(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	seed(t, store, models.StatusPlaying,
		&models.Player{ID: "a", Role: models.RoleCrewmate, Tasks: withTasks(false)},
		&models.Player{ID: "b", Role: models.RoleImposter})

	require.NoError(t, m.KickPlayer(ctx, "GAME", "a"))
	assert.NotContains(t, get(t, m, "GAME").Players, "a")

	assertKind(t, m.KickPlayer(ctx, "GAME", "a"), errs.KindNotFound)
	assertKind(t, m.KickPlayer(ctx, "GAME", "host"), errs.KindInvalidArgument)

	// a late partial write for the kicked player must not resurrect them
	err := store.Update(ctx, "GAME", models.Updates{models.PlayerPath("a", "status"): models.PlayerDead})
	assert.ErrorIs(t, err, persistence.ErrRecordNotFound)
	assert.NotContains(t, get(t, m, "GAME").Players, "a")

	p, found, err := m.Rejoin(ctx, "GAME", "a")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, p)

	p, found, err = m.Rejoin(ctx, "GAME", "b")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, models.RoleImposter, p.Role)
}

func TestStartGame_Distribution(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()
	var players []*models.Player
	for i := 0; i < 5; i++ {
		players = append(players, &models.Player{ID: fmt.Sprintf("p%d", i), Role: models.RoleSpectator})
	}
	seed(t, store, models.StatusWaiting, players...)

	settings := models.Settings{NumImposters: 2, DiscussionTime: 10, VotingTime: 20}
	require.NoError(t, m.StartGame(ctx, "GAME", &settings))

	l := get(t, m, "GAME")
	assert.Equal(t, models.StatusPlaying, l.Status)
	assert.Equal(t, settings, l.Settings)
	require.NotNil(t, l.StartedAt)
	assert.Equal(t, game.Millis(clock.Now()), *l.StartedAt)
	assertHostInvariant(t, l)

	counts := map[models.Role]int{}
	for id, p := range l.Players {
		counts[p.Role]++
		if id == "host" {
			assert.Empty(t, p.Tasks)
			continue
		}
		assert.Len(t, p.Tasks, 5, id)
		for _, task := range p.Tasks {
			assert.False(t, task.Completed)
		}
	}
	assert.Equal(t, 2, counts[models.RoleImposter])
	assert.Equal(t, 3, counts[models.RoleCrewmate])
	assert.Equal(t, 1, counts[models.RoleSpectator])

	assertKind(t, m.StartGame(ctx, "GAME", nil), errs.KindInvalidState)
}

func TestStartGame_RejectsBadSettings(t *testing.T) {
	m, store, _ := newTestManager(t)
	seed(t, store, models.StatusWaiting, &models.Player{ID: "a"})

	err := m.StartGame(context.Background(), "GAME", &models.Settings{NumImposters: 0})
	assertKind(t, err, errs.KindInvalidArgument)
	assert.ErrorIs(t, err, ErrInvalidSettings)
	assert.Equal(t, models.StatusWaiting, get(t, m, "GAME").Status)
}

func TestResetThenStart_SameShape(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	var players []*models.Player
	for i := 0; i < 7; i++ {
		players = append(players, &models.Player{ID: fmt.Sprintf("p%d", i)})
	}
	seed(t, store, models.StatusWaiting, players...)
	settings := models.Settings{NumImposters: 2, Roles: models.RoleSettings{Jester: true, Sheriff: true}, DiscussionTime: 30, VotingTime: 60}

	shape := func() map[models.Role]int {
		counts := map[models.Role]int{}
		for _, p := range get(t, m, "GAME").Players {
			counts[p.Role]++
		}
		return counts
	}

	require.NoError(t, m.StartGame(ctx, "GAME", &settings))
	first := shape()
	require.NoError(t, m.EliminatePlayer(ctx, "GAME", "p0"))

	require.NoError(t, m.ResetLobby(ctx, "GAME"))
	l := get(t, m, "GAME")
	assert.Equal(t, models.StatusWaiting, l.Status)
	assert.Nil(t, l.StartedAt)
	assert.Nil(t, l.Winner)
	for _, p := range l.Players {
		assert.Equal(t, models.RoleSpectator, p.Role)
		assert.Equal(t, models.PlayerAlive, p.Status)
		assert.Empty(t, p.Tasks)
		assert.False(t, p.HasVoted)
		assert.Nil(t, p.VotedFor)
	}
	assertHostInvariant(t, l)

	require.NoError(t, m.StartGame(ctx, "GAME", &settings))
	assert.Equal(t, first, shape())
	assert.Equal(t, map[models.Role]int{
		models.RoleSpectator: 1, models.RoleImposter: 2, models.RoleJester: 1, models.RoleSheriff: 1, models.RoleCrewmate: 3,
	}, first)
}

func TestUpdateSettings(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	seed(t, store, models.StatusWaiting, &models.Player{ID: "a"})

	s := models.Settings{NumImposters: 2, Roles: models.RoleSettings{Sheriff: true}, DiscussionTime: 5, VotingTime: 15}
	require.NoError(t, m.UpdateSettings(ctx, "GAME", s))
	assert.Equal(t, s, get(t, m, "GAME").Settings)

	assertKind(t, m.UpdateSettings(ctx, "GAME", models.Settings{NumImposters: 1, VotingTime: -1}), errs.KindInvalidArgument)

	require.NoError(t, m.StartGame(ctx, "GAME", nil))
	assertKind(t, m.UpdateSettings(ctx, "GAME", s), errs.KindInvalidState)
}

func TestMeeting_PhasesAndSkipDiscussion(t *testing.T) {
	m, store, clock := newTestManager(t)
	ctx := context.Background()
	seed(t, store, models.StatusPlaying,
		&models.Player{ID: "a", Role: models.RoleCrewmate, Tasks: withTasks(false)},
		&models.Player{ID: "b", Role: models.RoleCrewmate, Tasks: withTasks(false)},
		&models.Player{ID: "c", Role: models.RoleImposter})

	require.NoError(t, m.ReportBody(ctx, "GAME", "a"))
	l := get(t, m, "GAME")
	assert.Equal(t, models.StatusMeeting, l.Status)
	require.NotNil(t, l.Meeting)
	assert.Equal(t, models.ReasonBody, l.Meeting.Reason)
	assert.Equal(t, "a", l.Meeting.CallerID)

	phase, remaining, ok := m.PhaseAt(l)
	require.True(t, ok)
	assert.Equal(t, game.PhaseDiscussion, phase)
	assert.Equal(t, 30*time.Second, remaining)

	clock.Advance(5 * time.Second)
	require.NoError(t, m.SkipDiscussion(ctx, "GAME"))
	l = get(t, m, "GAME")
	phase, _, _ = m.PhaseAt(l)
	assert.Equal(t, game.PhaseVoting, phase)

	clock.Advance(10 * time.Minute)
	phase, remaining, _ = m.PhaseAt(l)
	assert.Equal(t, game.PhaseVoting, phase)
	assert.Zero(t, remaining)
	// expiry alone never resolves the meeting
	assert.Nil(t, get(t, m, "GAME").Meeting.Result)

	// a second meeting cannot be called while one is running
	assertKind(t, m.CallEmergency(ctx, "GAME", "b"), errs.KindInvalidState)
}

func TestCallEmergency_RequiresPlaying(t *testing.T) {
	m, store, _ := newTestManager(t)
	seed(t, store, models.StatusWaiting, &models.Player{ID: "a"})
	assertKind(t, m.CallEmergency(context.Background(), "GAME", "a"), errs.KindInvalidState)
}

// meetingLobby seeds a meeting with six living crew-side players a..f and
// one imposter z who never votes.
func meetingLobby(t *testing.T, store persistence.Store) {
	t.Helper()
	players := []*models.Player{{ID: "z", Role: models.RoleImposter}}
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		players = append(players, &models.Player{ID: id, Role: models.RoleCrewmate, Tasks: withTasks(false)})
	}
	seed(t, store, models.StatusMeeting, players...)
}

func castAll(t *testing.T, m *Manager, votes map[string]string) {
	t.Helper()
	for voter, target := range votes {
		require.NoError(t, m.CastVote(context.Background(), "GAME", voter, target))
	}
}

func TestEndMeeting_Tie(t *testing.T) {
	m, store, _ := newTestManager(t)
	meetingLobby(t, store)
	castAll(t, m, map[string]string{"a": "b", "b": "a", "c": "b", "d": "a", "e": "b", "f": "a"})

	result, err := m.EndMeeting(context.Background(), "GAME")
	require.NoError(t, err)
	assert.Equal(t, models.MethodTie, result.Method)
	assert.Nil(t, result.EjectedID)

	l := get(t, m, "GAME")
	assert.Equal(t, models.StatusMeeting, l.Status)
	require.NotNil(t, l.Meeting.Result)
	assert.Equal(t, models.MethodTie, l.Meeting.Result.Method)
	for _, p := range l.Players {
		assert.Equal(t, models.PlayerAlive, p.Status)
	}
}

func TestEndMeeting_SkipBeatsCandidate(t *testing.T) {
	m, store, _ := newTestManager(t)
	meetingLobby(t, store)
	castAll(t, m, map[string]string{"a": "b", "c": "b", "d": "skip", "e": "skip", "f": "skip"})

	result, err := m.EndMeeting(context.Background(), "GAME")
	require.NoError(t, err)
	assert.Equal(t, models.MethodSkip, result.Method)
	assert.Nil(t, result.EjectedID)
}

func TestEndMeeting_VoteEjects(t *testing.T) {
	m, store, _ := newTestManager(t)
	meetingLobby(t, store)
	castAll(t, m, map[string]string{"b": "a", "c": "a", "d": "a", "e": "a", "f": "b"})

	result, err := m.EndMeeting(context.Background(), "GAME")
	require.NoError(t, err)
	assert.Equal(t, models.MethodVote, result.Method)
	require.NotNil(t, result.EjectedID)
	assert.Equal(t, "a", *result.EjectedID)

	l := get(t, m, "GAME")
	assert.Equal(t, models.PlayerDead, l.Players["a"].Status)
	// 1 imposter vs 5 crew: no winner yet
	assert.Equal(t, models.StatusMeeting, l.Status)

	_, err = m.EndMeeting(context.Background(), "GAME")
	assertKind(t, err, errs.KindInvalidState)
	assert.ErrorIs(t, err, ErrMeetingResolved)
	assertKind(t, m.CastVote(context.Background(), "GAME", "b", "skip"), errs.KindInvalidState)

	require.NoError(t, m.ResumeGame(context.Background(), "GAME"))
	l = get(t, m, "GAME")
	assert.Equal(t, models.StatusPlaying, l.Status)
	assert.Nil(t, l.Meeting)
	for _, p := range l.Players {
		assert.False(t, p.HasVoted)
		assert.Nil(t, p.VotedFor)
	}
}

func TestEndMeeting_ZeroVotesSkipsWinCheck(t *testing.T) {
	m, store, _ := newTestManager(t)
	// imposter majority already holds, but nobody voted
	seed(t, store, models.StatusMeeting,
		&models.Player{ID: "i", Role: models.RoleImposter},
		&models.Player{ID: "c", Role: models.RoleCrewmate, Tasks: withTasks(false)})

	result, err := m.EndMeeting(context.Background(), "GAME")
	require.NoError(t, err)
	assert.Equal(t, models.MeetingResult{Method: models.MethodSkip}, result)
	assert.Equal(t, models.StatusMeeting, get(t, m, "GAME").Status)
}

func TestEndMeeting_NoEjectionStillEvaluates(t *testing.T) {
	m, store, _ := newTestManager(t)
	seed(t, store, models.StatusMeeting,
		&models.Player{ID: "i", Role: models.RoleImposter},
		&models.Player{ID: "c", Role: models.RoleCrewmate, Tasks: withTasks(false)})
	castAll(t, m, map[string]string{"c": "skip"})

	_, err := m.EndMeeting(context.Background(), "GAME")
	require.NoError(t, err)

	l := get(t, m, "GAME")
	assert.Equal(t, models.StatusEnded, l.Status)
	require.NotNil(t, l.Winner)
	assert.Equal(t, models.WinnerImposter, *l.Winner)
	assert.Equal(t, game.ReasonImposterMajority, *l.WinReason)
}

func TestEndMeeting_JesterEjected(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	seed(t, store, models.StatusMeeting,
		&models.Player{ID: "i", Name: "Ivy", Role: models.RoleImposter},
		&models.Player{ID: "j", Name: "Jo", Role: models.RoleJester},
		&models.Player{ID: "a", Name: "Al", Role: models.RoleCrewmate, Tasks: withTasks(false)},
		&models.Player{ID: "b", Name: "Bo", Role: models.RoleCrewmate, Tasks: withTasks(false)})
	castAll(t, m, map[string]string{"a": "j", "b": "j", "i": "a"})

	result, err := m.EndMeeting(ctx, "GAME")
	require.NoError(t, err)
	require.NotNil(t, result.EjectedID)
	assert.Equal(t, "j", *result.EjectedID)

	l := get(t, m, "GAME")
	assert.Equal(t, models.StatusEnded, l.Status)
	assert.Equal(t, models.WinnerJester, *l.Winner)
	assert.Equal(t, game.ReasonJesterEjected, *l.WinReason)
	assert.NotNil(t, l.Meeting, "the deciding meeting stays visible")

	records, err := store.ListGameRecords(ctx, "GAME")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.WinnerJester, records[0].Winner)
	for _, p := range records[0].Players {
		if p.Name == "Jo" {
			assert.Equal(t, "win", p.Outcome)
		} else {
			assert.Equal(t, "lose", p.Outcome)
		}
	}

	// ended is terminal until reset
	assertKind(t, m.CallEmergency(ctx, "GAME", "a"), errs.KindInvalidState)
	assertKind(t, m.CompleteTask(ctx, "GAME", "a", 0), errs.KindInvalidState)
	require.NoError(t, m.ResetLobby(ctx, "GAME"))
	assert.Equal(t, models.StatusWaiting, get(t, m, "GAME").Status)
}

func TestCastVote(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	meetingLobby(t, store)

	require.NoError(t, m.CastVote(ctx, "GAME", "a", "b"))
	require.NoError(t, m.CastVote(ctx, "GAME", "a", "skip"))

	l := get(t, m, "GAME")
	assert.True(t, l.Players["a"].HasVoted)
	require.NotNil(t, l.Players["a"].VotedFor)
	assert.Equal(t, "skip", *l.Players["a"].VotedFor)
	assert.Equal(t, "skip", l.Meeting.Votes["a"])

	assertKind(t, m.CastVote(ctx, "GAME", "a", "nobody"), errs.KindNotFound)
	assertKind(t, m.CastVote(ctx, "GAME", "ghost", "b"), errs.KindNotFound)
	assertKind(t, m.CastVote(ctx, "GAME", "host", "b"), errs.KindInvalidArgument)
}

func TestCastVote_RequiresMeeting(t *testing.T) {
	m, store, _ := newTestManager(t)
	seed(t, store, models.StatusPlaying,
		&models.Player{ID: "a", Role: models.RoleCrewmate},
		&models.Player{ID: "b", Role: models.RoleImposter})

	err := m.CastVote(context.Background(), "GAME", "a", "b")
	assertKind(t, err, errs.KindInvalidState)
	assert.ErrorIs(t, err, ErrWrongStatus)
	assertKind(t, m.SkipDiscussion(context.Background(), "GAME"), errs.KindInvalidState)
	assertKind(t, m.ResumeGame(context.Background(), "GAME"), errs.KindInvalidState)
}

func TestCompleteTask_TogglesAndWins(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	seed(t, store, models.StatusPlaying,
		&models.Player{ID: "i", Role: models.RoleImposter, Tasks: withTasks(false)},
		&models.Player{ID: "a", Role: models.RoleCrewmate, Tasks: withTasks(true, false)},
		&models.Player{ID: "d", Role: models.RoleCrewmate, Status: models.PlayerDead, Tasks: withTasks(false)})

	// toggling back and forth
	require.NoError(t, m.CompleteTask(ctx, "GAME", "a", 1))
	require.NoError(t, m.CompleteTask(ctx, "GAME", "a", 1))
	l := get(t, m, "GAME")
	assert.False(t, l.Players["a"].Tasks[1].Completed)
	// task mode never awards imposter majority (1 imposter vs 1 living crew)
	assert.Equal(t, models.StatusPlaying, l.Status)

	assertKind(t, m.CompleteTask(ctx, "GAME", "a", 7), errs.KindInvalidArgument)
	assertKind(t, m.CompleteTask(ctx, "GAME", "ghost", 0), errs.KindNotFound)

	require.NoError(t, m.CompleteTask(ctx, "GAME", "a", 1))
	assert.Equal(t, models.StatusPlaying, get(t, m, "GAME").Status, "dead crew still owe their task")

	require.NoError(t, m.CompleteTask(ctx, "GAME", "d", 0))
	l = get(t, m, "GAME")
	assert.Equal(t, models.StatusEnded, l.Status)
	assert.Equal(t, models.WinnerCrewmate, *l.Winner)
	assert.Equal(t, game.ReasonTasksCompleted, *l.WinReason)
}

func TestEliminatePlayer(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	seed(t, store, models.StatusPlaying,
		&models.Player{ID: "i", Name: "Ivy", Role: models.RoleImposter},
		&models.Player{ID: "s", Name: "Sam", Role: models.RoleSheriff, Tasks: withTasks(false)},
		&models.Player{ID: "a", Name: "Al", Role: models.RoleCrewmate, Tasks: withTasks(false)},
		&models.Player{ID: "b", Name: "Bo", Role: models.RoleCrewmate, Tasks: withTasks(false)})

	require.NoError(t, m.EliminatePlayer(ctx, "GAME", "a"))
	l := get(t, m, "GAME")
	assert.Equal(t, models.PlayerDead, l.Players["a"].Status)
	assert.Equal(t, models.StatusPlaying, l.Status)

	assertKind(t, m.EliminatePlayer(ctx, "GAME", "host"), errs.KindInvalidArgument)

	require.NoError(t, m.EliminatePlayer(ctx, "GAME", "i"))
	l = get(t, m, "GAME")
	assert.Equal(t, models.StatusEnded, l.Status)
	assert.Equal(t, models.WinnerCrewmate, *l.Winner)
	assert.Equal(t, game.ReasonImpostersEliminated, *l.WinReason)

	records, err := store.ListPlayerRecords(ctx, "Sam")
	require.NoError(t, err)
	require.Len(t, records, 1)
	outcomes := map[string]string{}
	for _, p := range records[0].Players {
		outcomes[p.Name] = p.Outcome
	}
	assert.Equal(t, map[string]string{"Ivy": "lose", "Sam": "win", "Al": "win", "Bo": "win"}, outcomes)
}

func TestEliminatePlayer_ImposterMajority(t *testing.T) {
	m, store, _ := newTestManager(t)
	seed(t, store, models.StatusPlaying,
		&models.Player{ID: "i1", Role: models.RoleImposter},
		&models.Player{ID: "i2", Role: models.RoleImposter},
		&models.Player{ID: "a", Role: models.RoleCrewmate, Tasks: withTasks(false)},
		&models.Player{ID: "b", Role: models.RoleCrewmate, Tasks: withTasks(false)},
		&models.Player{ID: "c", Role: models.RoleCrewmate, Tasks: withTasks(false)})

	require.NoError(t, m.EliminatePlayer(context.Background(), "GAME", "c"))
	l := get(t, m, "GAME")
	assert.Equal(t, models.StatusEnded, l.Status)
	assert.Equal(t, models.WinnerImposter, *l.Winner)
}

func TestSabotageAndIntro(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	seed(t, store, models.StatusPlaying, &models.Player{ID: "a", Role: models.RoleCrewmate})

	for i := 0; i < 2; i++ {
		require.NoError(t, m.ResolveSabotage(ctx, "GAME"))
		l := get(t, m, "GAME")
		require.NotNil(t, l.Sabotage)
		assert.False(t, l.Sabotage.LightsFlash)
	}

	require.NoError(t, m.TriggerSabotage(ctx, "GAME"))
	assert.True(t, get(t, m, "GAME").Sabotage.LightsFlash)
	require.NoError(t, m.ResolveSabotage(ctx, "GAME"))
	assert.False(t, get(t, m, "GAME").Sabotage.LightsFlash)

	require.NoError(t, m.TriggerIntro(ctx, "GAME"))
	assert.True(t, get(t, m, "GAME").ShowIntro)

	require.NoError(t, m.ResetLobby(ctx, "GAME"))
	l := get(t, m, "GAME")
	assert.Nil(t, l.Sabotage)
	assert.False(t, l.ShowIntro)
}

func TestRequireHost(t *testing.T) {
	m, store, _ := newTestManager(t)
	seed(t, store, models.StatusWaiting, &models.Player{ID: "a"})

	require.NoError(t, m.RequireHost(context.Background(), "GAME", "host"))
	err := m.RequireHost(context.Background(), "GAME", "a")
	assert.ErrorIs(t, err, ErrNotHost)
}

func TestWatch(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	seed(t, store, models.StatusWaiting)

	var (
		mutex  sync.Mutex
		latest *models.Lobby
	)
	cancel, err := m.Watch(ctx, "game", func(s persistence.Snapshot) {
		mutex.Lock()
		defer mutex.Unlock()
		latest = s.Lobby
	})
	require.NoError(t, err)
	defer cancel()

	id, err := m.JoinLobby(ctx, "GAME", "Ola", "char_9")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mutex.Lock()
		defer mutex.Unlock()
		if latest == nil {
			return false
		}
		_, ok := latest.Players[id]
		return ok
	}, time.Second, 5*time.Millisecond)

	_, err = m.Watch(ctx, "NONE", func(persistence.Snapshot) {})
	assertKind(t, err, errs.KindNotFound)
}

// blockingStore never answers until the caller gives up.
type blockingStore struct {
	persistence.Store
}

func (blockingStore) Get(ctx context.Context, _ string) (*models.Lobby, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingStore) Put(ctx context.Context, _ string, _ *models.Lobby) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestTimeouts(t *testing.T) {
	m := NewManager(blockingStore{}, WithTimeout(20*time.Millisecond))
	ctx := context.Background()

	_, _, err := m.CreateLobby(ctx, "Host", "char_1")
	assertKind(t, err, errs.KindTimeout)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = m.JoinLobby(ctx, "ABCD", "Ola", "char_9")
	assertKind(t, err, errs.KindTimeout)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestBuildRecord(t *testing.T) {
	l := &models.Lobby{
		ID:     "GAME",
		HostID: "host",
		Players: map[string]*models.Player{
			"host": {ID: "host", Name: "H", IsHost: true, Role: models.RoleSpectator},
			"late": {ID: "late", Name: "L", Role: models.RoleSpectator},
			"i":    {ID: "i", Name: "I", Role: models.RoleImposter, Status: models.PlayerAlive},
			"c":    {ID: "c", Name: "C", Role: models.RoleCrewmate, Status: models.PlayerDead},
		},
	}
	r := BuildRecord(l, game.Outcome{Winner: models.WinnerImposter, Reason: game.ReasonImposterMajority}, epoch)

	assert.Equal(t, "GAME", r.LobbyID)
	assert.Equal(t, []models.PlayerInfo{
		{Name: "C", Role: models.RoleCrewmate, Status: models.PlayerDead, Outcome: "lose"},
		{Name: "I", Role: models.RoleImposter, Status: models.PlayerAlive, Outcome: "win"},
	}, r.Players)
}

func TestStartGame_SmallPoolCapsDraw(t *testing.T) {
	pool := tasks.NewPool([]tasks.Template{
		{ID: "a", Description: "Calibrate", RoomID: "Lab"},
		{ID: "b", Description: "Refuel", RoomID: "Engine"},
	})
	m, store, _ := newTestManager(t, WithPool(pool), WithTasksPerPlayer(5))
	seed(t, store, models.StatusWaiting,
		&models.Player{ID: "p1", Role: models.RoleSpectator},
		&models.Player{ID: "p2", Role: models.RoleSpectator})

	require.NoError(t, m.StartGame(context.Background(), "GAME", nil))

	l := get(t, m, "GAME")
	for _, id := range []string{"p1", "p2"} {
		require.Len(t, l.Players[id].Tasks, 2, id)
		assert.ElementsMatch(t, []string{"a", "b"}, []string{l.Players[id].Tasks[0].ID, l.Players[id].Tasks[1].ID})
	}
}

// gateStore lets the first n Gets read the document, then holds each of them
// until all n have read, so concurrent operations start from the same version.
type gateStore struct {
	*persistence.MemoryStore
	mutex   sync.Mutex
	waiting int
	release chan struct{}
}

func newGateStore(n int) *gateStore {
	return &gateStore{MemoryStore: persistence.NewMemoryStore(), waiting: n, release: make(chan struct{})}
}

func (g *gateStore) Get(ctx context.Context, lobbyID string) (*models.Lobby, error) {
	l, err := g.MemoryStore.Get(ctx, lobbyID)

	g.mutex.Lock()
	gated := g.waiting > 0
	if gated {
		g.waiting--
		if g.waiting == 0 {
			close(g.release)
		}
	}
	g.mutex.Unlock()

	if gated {
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return l, err
}

func newGatedManager(t *testing.T, n int) (*Manager, *gateStore) {
	t.Helper()
	store := newGateStore(n)
	t.Cleanup(func() { _ = store.Close() })
	m := NewManager(store,
		WithClock(game.NewFixedClock(epoch)),
		WithRand(rand.New(rand.NewSource(7))),
		WithRecorder(store),
		WithTimeout(2*time.Second))
	return m, store
}

func runTogether(t *testing.T, ops ...func() error) {
	t.Helper()
	var wg sync.WaitGroup
	errCh := make(chan error, len(ops))
	for _, op := range ops {
		wg.Add(1)
		go func(op func() error) {
			defer wg.Done()
			errCh <- op()
		}(op)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
}

func TestCompleteTask_ConcurrentFinalTasksEndGame(t *testing.T) {
	m, store := newGatedManager(t, 2)
	ctx := context.Background()
	seed(t, store.MemoryStore, models.StatusPlaying,
		&models.Player{ID: "i", Role: models.RoleImposter},
		&models.Player{ID: "c1", Role: models.RoleCrewmate, Tasks: withTasks(false)},
		&models.Player{ID: "c2", Role: models.RoleCrewmate, Tasks: withTasks(false)})

	runTogether(t,
		func() error { return m.CompleteTask(ctx, "GAME", "c1", 0) },
		func() error { return m.CompleteTask(ctx, "GAME", "c2", 0) })

	l := get(t, m, "GAME")
	assert.True(t, l.Players["c1"].Tasks[0].Completed)
	assert.True(t, l.Players["c2"].Tasks[0].Completed)
	assert.Equal(t, models.StatusEnded, l.Status)
	require.NotNil(t, l.Winner)
	assert.Equal(t, models.WinnerCrewmate, *l.Winner)

	records, err := store.ListGameRecords(ctx, "GAME")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestEliminatePlayer_ConcurrentDeathsGiveMajority(t *testing.T) {
	m, store := newGatedManager(t, 2)
	ctx := context.Background()
	seed(t, store.MemoryStore, models.StatusPlaying,
		&models.Player{ID: "i", Role: models.RoleImposter},
		&models.Player{ID: "c1", Role: models.RoleCrewmate, Tasks: withTasks(false)},
		&models.Player{ID: "c2", Role: models.RoleCrewmate, Tasks: withTasks(false)},
		&models.Player{ID: "c3", Role: models.RoleCrewmate, Tasks: withTasks(false)})

	runTogether(t,
		func() error { return m.EliminatePlayer(ctx, "GAME", "c1") },
		func() error { return m.EliminatePlayer(ctx, "GAME", "c2") })

	l := get(t, m, "GAME")
	assert.Equal(t, models.PlayerDead, l.Players["c1"].Status)
	assert.Equal(t, models.PlayerDead, l.Players["c2"].Status)
	assert.Equal(t, models.StatusEnded, l.Status)
	require.NotNil(t, l.Winner)
	assert.Equal(t, models.WinnerImposter, *l.Winner)
	assert.Equal(t, game.ReasonImposterMajority, *l.WinReason)
}
