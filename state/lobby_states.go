package state

import (
	"github.com/aryansinha9/irl-among-us/logger"
	"github.com/aryansinha9/irl-among-us/models"
)

// WaitingState 等待状态。进入时把所有玩家还原为观众，清空本局数据。
type WaitingState struct {
	LobbyStateBase
}

func NewWaitingState() *WaitingState {
	return &WaitingState{LobbyStateBase{ID: models.StatusWaiting}}
}

func (s *WaitingState) OnEnter(c *Change) {
	l := c.Lobby
	for id, p := range l.Players {
		p.Role = models.RoleSpectator
		p.Status = models.PlayerAlive
		p.Tasks = []models.Task{}
		p.HasVoted = false
		p.VotedFor = nil

		c.Set(models.PlayerPath(id, "role"), p.Role)
		c.Set(models.PlayerPath(id, "status"), p.Status)
		c.Set(models.PlayerPath(id, "tasks"), p.Tasks)
		c.Set(models.PlayerPath(id, "hasVoted"), false)
		c.Set(models.PlayerPath(id, "votedFor"), nil)
	}

	l.StartedAt = nil
	l.Meeting = nil
	l.Winner = nil
	l.WinReason = nil
	l.Sabotage = nil
	l.ShowIntro = false
	c.Set("startedAt", nil)
	c.Set("meeting", nil)
	c.Set("winner", nil)
	c.Set("winReason", nil)
	c.Set("sabotage", nil)
	c.Set("showIntro", false)

	logger.Log.Infow("lobby reset to waiting", "lobby", l.ID, "from", c.From, "players", len(l.Players))
}

// PlayingState 游戏进行状态
type PlayingState struct {
	LobbyStateBase
}

func NewPlayingState() *PlayingState {
	return &PlayingState{LobbyStateBase{ID: models.StatusPlaying}}
}

func (s *PlayingState) OnEnter(c *Change) {
	if c.From != models.StatusWaiting {
		return
	}
	started := c.Now.UnixMilli()
	c.Lobby.StartedAt = &started
	c.Set("startedAt", started)
	logger.Log.Infow("lobby entered playing", "lobby", c.Lobby.ID)
}

// MeetingState 会议状态。回到游戏时清空会议和投票。
type MeetingState struct {
	LobbyStateBase
}

func NewMeetingState() *MeetingState {
	return &MeetingState{LobbyStateBase{ID: models.StatusMeeting}}
}

func (s *MeetingState) OnEnter(c *Change) {
	if m := c.Lobby.Meeting; m != nil {
		logger.Log.Infow("meeting started", "lobby", c.Lobby.ID, "caller", m.CallerID, "reason", m.Reason)
	}
}

func (s *MeetingState) OnExit(c *Change) {
	if c.To != models.StatusPlaying {
		// 会议导致游戏结束时保留会议结果，供结算画面展示
		return
	}
	l := c.Lobby
	l.Meeting = nil
	c.Set("meeting", nil)
	for id, p := range l.Players {
		p.HasVoted = false
		p.VotedFor = nil
		c.Set(models.PlayerPath(id, "hasVoted"), false)
		c.Set(models.PlayerPath(id, "votedFor"), nil)
	}
}

// EndedState 结束状态，直到重置之前不再变化
type EndedState struct {
	LobbyStateBase
}

func NewEndedState() *EndedState {
	return &EndedState{LobbyStateBase{ID: models.StatusEnded}}
}

func (s *EndedState) OnEnter(c *Change) {
	l := c.Lobby
	if l.Winner != nil {
		c.Set("winner", *l.Winner)
	}
	if l.WinReason != nil {
		c.Set("winReason", *l.WinReason)
	}
	logger.Log.Infow("lobby ended", "lobby", l.ID, "winner", l.Winner, "reason", l.WinReason)
}

// NewLobbyMachine wires the lobby lifecycle:
// waiting -> playing <-> meeting, playing|meeting -> ended, any -> waiting.
// Ending requires a winner on the working copy.
func NewLobbyMachine() *BaseStateMachine {
	waiting := NewWaitingState()
	playing := NewPlayingState()
	meeting := NewMeetingState()
	ended := NewEndedState()
	sm := NewBaseStateMachine(waiting, playing, meeting, ended)

	hasWinner := func(c *Change) bool { return c.Lobby.Winner != nil }
	hasMeeting := func(c *Change) bool { return c.Lobby.Meeting != nil }

	_ = sm.AddTransition(models.StatusWaiting, models.StatusPlaying, nil)
	_ = sm.AddTransition(models.StatusPlaying, models.StatusMeeting, hasMeeting)
	_ = sm.AddTransition(models.StatusMeeting, models.StatusPlaying, nil)
	_ = sm.AddTransition(models.StatusPlaying, models.StatusEnded, hasWinner)
	_ = sm.AddTransition(models.StatusMeeting, models.StatusEnded, hasWinner)
	for _, from := range []models.LobbyStatus{models.StatusWaiting, models.StatusPlaying, models.StatusMeeting, models.StatusEnded} {
		_ = sm.AddTransition(from, models.StatusWaiting, nil)
	}
	return sm
}
