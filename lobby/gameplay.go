package lobby

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/aryansinha9/irl-among-us/errs"
	"github.com/aryansinha9/irl-among-us/game"
	"github.com/aryansinha9/irl-among-us/logger"
	"github.com/aryansinha9/irl-among-us/models"
	"github.com/aryansinha9/irl-among-us/state"
)

// StartGame 分配角色和任务并开始游戏。settings 为 nil 时使用大厅当前设置；
// 否则以传入的设置为准并写回大厅。
func (m *Manager) StartGame(ctx context.Context, code string, settings *models.Settings) error {
	const op = "lobby.StartGame"
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	l, err := m.load(ctx, op, code)
	if err != nil {
		return err
	}
	if l.Status != models.StatusWaiting {
		return wrongStatus(op, l)
	}
	final := l.Settings
	if settings != nil {
		final = *settings
	}
	if err := ValidateSettings(final); err != nil {
		return errs.E(errs.KindInvalidArgument, op, err)
	}

	c := state.NewChange(l, m.clock.Now())
	var a game.Assignment
	m.withRand(func(r *rand.Rand) { a = game.AssignRoles(r, m.pool, l, final, m.tasksPerPlayer) })
	for id, role := range a.Roles {
		p := l.Players[id]
		p.Role = role
		p.Tasks = a.Tasks[id]
		c.Set(models.PlayerPath(id, "role"), role)
		c.Set(models.PlayerPath(id, "tasks"), p.Tasks)
	}
	// 房主始终是观众
	if host, ok := l.Host(); ok {
		host.Role = models.RoleSpectator
		host.Status = models.PlayerAlive
		c.Set(models.PlayerPath(l.HostID, "role"), models.RoleSpectator)
		c.Set(models.PlayerPath(l.HostID, "status"), models.PlayerAlive)
	}
	l.Settings = final
	c.Set("settings", final)

	if err := m.machine.ChangeState(c, models.StatusPlaying); err != nil {
		return fail(op, err)
	}
	if err := m.update(ctx, op, l.ID, c.Updates); err != nil {
		return err
	}

	m.monitor.IncGamesStarted()
	logger.Log.Infow("game started", "lobby", l.ID, "players", len(a.Roles),
		"imposters", a.Count(models.RoleImposter), "jester", a.Count(models.RoleJester), "sheriff", a.Count(models.RoleSheriff))
	return nil
}

// ReportBody 报告尸体，召开会议
func (m *Manager) ReportBody(ctx context.Context, code, reporterID string) error {
	return m.callMeeting(ctx, "lobby.ReportBody", code, reporterID, models.ReasonBody)
}

// CallEmergency 紧急会议。不限制次数。
func (m *Manager) CallEmergency(ctx context.Context, code, callerID string) error {
	return m.callMeeting(ctx, "lobby.CallEmergency", code, callerID, models.ReasonEmergency)
}

func (m *Manager) callMeeting(ctx context.Context, op, code, callerID string, reason models.MeetingReason) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	l, err := m.load(ctx, op, code)
	if err != nil {
		return err
	}
	if l.Status != models.StatusPlaying {
		return wrongStatus(op, l)
	}
	if _, ok := l.Players[callerID]; !ok {
		return playerNotFound(op, callerID)
	}

	now := m.clock.Now()
	c := state.NewChange(l, now)
	l.Meeting = game.NewMeeting(callerID, reason, l.Settings, now)
	c.Set("meeting", l.Meeting)
	if err := m.machine.ChangeState(c, models.StatusMeeting); err != nil {
		return fail(op, err)
	}
	if err := m.update(ctx, op, l.ID, c.Updates); err != nil {
		return err
	}
	m.monitor.IncMeetings(string(reason))
	return nil
}

// CompleteTask 切换任务完成状态（再次调用会取消完成），然后按 task 模式检查胜负
func (m *Manager) CompleteTask(ctx context.Context, code, playerID string, index int) error {
	const op = "lobby.CompleteTask"
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	l, err := m.load(ctx, op, code)
	if err != nil {
		return err
	}
	if l.Status != models.StatusPlaying {
		return wrongStatus(op, l)
	}
	p, ok := l.Players[playerID]
	if !ok {
		return playerNotFound(op, playerID)
	}
	if index < 0 || index >= len(p.Tasks) {
		return errs.E(errs.KindInvalidArgument, op, fmt.Errorf("%w: index %d of %d", ErrTaskNotFound, index, len(p.Tasks)))
	}

	p.Tasks[index].Completed = !p.Tasks[index].Completed
	if err := m.update(ctx, op, l.ID, models.Updates{models.PlayerPath(playerID, "tasks"): p.Tasks}); err != nil {
		return err
	}
	logger.Log.Infow("task toggled", "lobby", l.ID, "player", playerID, "task", p.Tasks[index].ID, "completed", p.Tasks[index].Completed)

	return m.settle(ctx, op, l.ID, game.ModeTask)
}

// EliminatePlayer 玩家自报死亡，然后检查全部胜负条件
func (m *Manager) EliminatePlayer(ctx context.Context, code, playerID string) error {
	const op = "lobby.EliminatePlayer"
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	l, err := m.load(ctx, op, code)
	if err != nil {
		return err
	}
	if l.Status != models.StatusPlaying {
		return wrongStatus(op, l)
	}
	p, ok := l.Players[playerID]
	if !ok {
		return playerNotFound(op, playerID)
	}
	if playerID == l.HostID {
		return errs.E(errs.KindInvalidArgument, op, ErrHostNotPlayable)
	}

	if err := m.update(ctx, op, l.ID, models.Updates{models.PlayerPath(playerID, "status"): models.PlayerDead}); err != nil {
		return err
	}
	logger.Log.Infow("player eliminated", "lobby", l.ID, "player", playerID, "role", p.Role)

	return m.settle(ctx, op, l.ID, game.ModeAll)
}

// CastVote 投票，targetID 为玩家 ID 或 "skip"。重复投票以最后一次为准。
func (m *Manager) CastVote(ctx context.Context, code, voterID, targetID string) error {
	const op = "lobby.CastVote"
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	l, err := m.load(ctx, op, code)
	if err != nil {
		return err
	}
	if l.Status != models.StatusMeeting || l.Meeting == nil {
		return wrongStatus(op, l)
	}
	if l.Meeting.Result != nil {
		return errs.E(errs.KindInvalidState, op, ErrMeetingResolved)
	}
	voter, ok := l.Players[voterID]
	if !ok {
		return playerNotFound(op, voterID)
	}
	if voterID == l.HostID {
		return errs.E(errs.KindInvalidArgument, op, ErrHostNotPlayable)
	}
	if voter.IsDead() {
		return errs.E(errs.KindInvalidState, op, ErrPlayerDead)
	}
	if targetID != models.SkipVote {
		if _, ok := l.Players[targetID]; !ok {
			return playerNotFound(op, targetID)
		}
	}

	updates := models.Updates{}.
		Set(models.PlayerPath(voterID, "hasVoted"), true).
		Set(models.PlayerPath(voterID, "votedFor"), targetID).
		Set(models.MeetingPath("votes", voterID), targetID)
	if err := m.update(ctx, op, l.ID, updates); err != nil {
		return err
	}
	m.monitor.IncVotes()
	logger.Log.Infow("vote cast", "lobby", l.ID, "voter", voterID, "target", targetID)
	return nil
}

// SkipDiscussion 房主跳过讨论，立即开始投票
func (m *Manager) SkipDiscussion(ctx context.Context, code string) error {
	const op = "lobby.SkipDiscussion"
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	l, err := m.load(ctx, op, code)
	if err != nil {
		return err
	}
	if l.Status != models.StatusMeeting || l.Meeting == nil {
		return wrongStatus(op, l)
	}
	if l.Meeting.Result != nil {
		return errs.E(errs.KindInvalidState, op, ErrMeetingResolved)
	}
	now := game.Millis(m.clock.Now())
	return m.update(ctx, op, l.ID, models.Updates{models.MeetingPath("discussionEndAt"): now})
}

// EndMeeting 计票并结算会议。没有任何有效投票时结果为 skip，且不检查胜负。
func (m *Manager) EndMeeting(ctx context.Context, code string) (models.MeetingResult, error) {
	const op = "lobby.EndMeeting"
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	l, err := m.load(ctx, op, code)
	if err != nil {
		return models.MeetingResult{}, err
	}
	if l.Status != models.StatusMeeting || l.Meeting == nil {
		return models.MeetingResult{}, wrongStatus(op, l)
	}
	if l.Meeting.Result != nil {
		return models.MeetingResult{}, errs.E(errs.KindInvalidState, op, ErrMeetingResolved)
	}

	c := state.NewChange(l, m.clock.Now())
	result, count := game.Tally(l)
	l.Meeting.Result = &result
	c.Set(models.MeetingPath("result"), result)

	var (
		outcome game.Outcome
		won     bool
	)
	if result.EjectedID != nil {
		ejected := l.Players[*result.EjectedID]
		ejected.Status = models.PlayerDead
		c.Set(models.PlayerPath(ejected.ID, "status"), models.PlayerDead)
		if ejected.Role == models.RoleJester {
			outcome, won = game.JesterOutcome(), true
		}
	}
	if won {
		if err := m.finish(c, outcome); err != nil {
			return models.MeetingResult{}, fail(op, err)
		}
	}
	if err := m.update(ctx, op, l.ID, c.Updates); err != nil {
		return models.MeetingResult{}, err
	}

	m.monitor.IncMeetingOutcome(string(result.Method))
	logger.Log.Infow("meeting ended", "lobby", l.ID, "method", result.Method, "ejected", result.EjectedID,
		"votes", count.Total, "skips", count.Skips)
	m.afterFinish(ctx, l, won, outcome)

	// 没有任何投票时不检查胜负
	if !won && count.Total > 0 {
		if err := m.settle(ctx, op, l.ID, game.ModeAll); err != nil {
			return result, err
		}
	}
	return result, nil
}

// ResumeGame 会议结束后回到游戏，清空会议和投票状态
func (m *Manager) ResumeGame(ctx context.Context, code string) error {
	const op = "lobby.ResumeGame"
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	l, err := m.load(ctx, op, code)
	if err != nil {
		return err
	}
	if l.Status != models.StatusMeeting {
		return wrongStatus(op, l)
	}
	c := state.NewChange(l, m.clock.Now())
	if err := m.machine.ChangeState(c, models.StatusPlaying); err != nil {
		return fail(op, err)
	}
	return m.update(ctx, op, l.ID, c.Updates)
}

// PhaseAt derives the meeting phase of a lobby at the manager's clock.
func (m *Manager) PhaseAt(l *models.Lobby) (game.Phase, time.Duration, bool) {
	if l == nil || l.Meeting == nil {
		return "", 0, false
	}
	phase, remaining := game.PhaseAt(l.Meeting, m.clock.Now())
	return phase, remaining, true
}

// settle re-reads the lobby after a write and ends the game when a win
// condition holds on the stored document. Writes by other callers to other
// players are visible here, which they are not on the caller's working copy.
func (m *Manager) settle(ctx context.Context, op, lobbyID string, mode game.Mode) error {
	m.settleMutex.Lock()
	defer m.settleMutex.Unlock()

	l, err := m.load(ctx, op, lobbyID)
	if err != nil {
		return err
	}
	if l.Status != models.StatusPlaying && l.Status != models.StatusMeeting {
		return nil
	}
	outcome, won := game.Evaluate(l, mode)
	if !won {
		return nil
	}

	c := state.NewChange(l, m.clock.Now())
	if err := m.finish(c, outcome); err != nil {
		return fail(op, err)
	}
	if err := m.update(ctx, op, l.ID, c.Updates); err != nil {
		return err
	}
	logger.Log.Infow("game over", "lobby", l.ID, "winner", outcome.Winner, "reason", outcome.Reason)
	m.afterFinish(ctx, l, true, outcome)
	return nil
}

// finish moves the working copy to ended with outcome.
func (m *Manager) finish(c *state.Change, outcome game.Outcome) error {
	winner := outcome.Winner
	reason := outcome.Reason
	c.Lobby.Winner = &winner
	c.Lobby.WinReason = &reason
	return m.machine.ChangeState(c, models.StatusEnded)
}

// afterFinish 写入成功后记录结果。记录失败只打日志，不影响操作本身。
func (m *Manager) afterFinish(ctx context.Context, l *models.Lobby, won bool, outcome game.Outcome) {
	if !won {
		return
	}
	m.monitor.IncWins(string(outcome.Winner), outcome.Reason)
	if m.recorder == nil {
		return
	}
	record := BuildRecord(l, outcome, m.clock.Now())
	if err := m.recorder.SaveGameRecord(ctx, record); err != nil {
		logger.Log.Errorw("failed to save game record", "lobby", l.ID, "error", err)
	}
}

// BuildRecord summarises an ended lobby. Spectators are left out.
func BuildRecord(l *models.Lobby, outcome game.Outcome, endedAt time.Time) models.GameRecord {
	record := models.GameRecord{
		LobbyID:   l.ID,
		Winner:    outcome.Winner,
		WinReason: outcome.Reason,
		Players:   []models.PlayerInfo{},
		EndedAt:   endedAt.UTC(),
	}
	for _, id := range game.PlayableIDs(l) {
		p := l.Players[id]
		if p.Role == models.RoleSpectator {
			continue
		}
		result := "lose"
		if onWinningSide(p.Role, outcome.Winner) {
			result = "win"
		}
		record.Players = append(record.Players, models.PlayerInfo{
			Name:    p.Name,
			Role:    p.Role,
			Status:  p.Status,
			Outcome: result,
		})
	}
	return record
}

func onWinningSide(role models.Role, winner models.Winner) bool {
	switch winner {
	case models.WinnerImposter:
		return role == models.RoleImposter
	case models.WinnerJester:
		return role == models.RoleJester
	case models.WinnerCrewmate:
		return role == models.RoleCrewmate || role == models.RoleSheriff
	}
	return false
}
