// models/models.go
package models

import "time"

// LobbyStatus 大厅状态
type LobbyStatus string

const (
	StatusWaiting LobbyStatus = "waiting"
	StatusPlaying LobbyStatus = "playing"
	StatusMeeting LobbyStatus = "meeting"
	StatusEnded   LobbyStatus = "ended"
)

// Role 玩家角色
type Role string

const (
	RoleSpectator Role = "spectator"
	RoleCrewmate  Role = "crewmate"
	RoleImposter  Role = "imposter"
	RoleJester    Role = "jester"
	RoleSheriff   Role = "sheriff"
)

// PlayerStatus 玩家存活状态
type PlayerStatus string

const (
	PlayerAlive PlayerStatus = "alive"
	PlayerDead  PlayerStatus = "dead"
)

// Winner 获胜阵营
type Winner string

const (
	WinnerCrewmate Winner = "crewmate"
	WinnerImposter Winner = "imposter"
	WinnerJester   Winner = "jester"
)

// MeetingReason 会议触发原因
type MeetingReason string

const (
	ReasonBody      MeetingReason = "body"
	ReasonEmergency MeetingReason = "emergency"
)

// ResultMethod 投票结果方式
type ResultMethod string

const (
	MethodVote ResultMethod = "vote"
	MethodTie  ResultMethod = "tie"
	MethodSkip ResultMethod = "skip"
)

// SkipVote is the votedFor value of a player who voted to skip.
const SkipVote = "skip"

// RoleSettings toggles the optional roles.
type RoleSettings struct {
	Jester  bool `json:"jester"`
	Sheriff bool `json:"sheriff"`
}

// Settings 房主配置，只能在 waiting 状态下修改
type Settings struct {
	NumImposters   int          `json:"numImposters"`
	Roles          RoleSettings `json:"roles"`
	DiscussionTime int          `json:"discussionTime"` // 秒
	VotingTime     int          `json:"votingTime"`     // 秒
}

// DefaultSettings returns the settings a freshly created lobby starts with.
func DefaultSettings() Settings {
	return Settings{
		NumImposters:   1,
		DiscussionTime: 30,
		VotingTime:     120,
	}
}

// Task 任务
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Details     string `json:"details,omitempty"`
	RoomID      string `json:"roomId"`
	Type        string `json:"type,omitempty"`
	Completed   bool   `json:"completed"`
}

// Player 玩家
type Player struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Color          string       `json:"color"`
	CharacterImage string       `json:"characterImage"`
	Role           Role         `json:"role"`
	IsHost         bool         `json:"isHost"`
	Status         PlayerStatus `json:"status"`
	Tasks          []Task       `json:"tasks"`
	HasVoted       bool         `json:"hasVoted"`
	VotedFor       *string      `json:"votedFor"`
}

// IsDead reports whether the player has been killed or ejected.
func (p *Player) IsDead() bool {
	return p.Status == PlayerDead
}

// MeetingResult is written exactly once per meeting.
type MeetingResult struct {
	EjectedID *string      `json:"ejectedId"`
	Method    ResultMethod `json:"method"`
}

// Meeting 会议，时间戳均为 Unix 毫秒
type Meeting struct {
	CallerID        string            `json:"callerId"`
	Reason          MeetingReason     `json:"reason"`
	StartedAt       int64             `json:"startedAt"`
	DiscussionEndAt int64             `json:"discussionEndAt"`
	VotingEndAt     int64             `json:"votingEndAt"`
	Votes           map[string]string `json:"votes"`
	Result          *MeetingResult    `json:"result,omitempty"`
}

// Sabotage 破坏状态
type Sabotage struct {
	LightsFlash bool `json:"lightsFlash"`
}

// Lobby 游戏大厅，按大厅码存储的共享文档
type Lobby struct {
	ID        string             `json:"id"`
	HostID    string             `json:"hostId"`
	Status    LobbyStatus        `json:"status"`
	CreatedAt int64              `json:"createdAt"`
	StartedAt *int64             `json:"startedAt"`
	Settings  Settings           `json:"settings"`
	Players   map[string]*Player `json:"players"`
	Meeting   *Meeting           `json:"meeting"`
	Sabotage  *Sabotage          `json:"sabotage"`
	Winner    *Winner            `json:"winner"`
	WinReason *string            `json:"winReason"`
	ShowIntro bool               `json:"showIntro"`
}

// Host returns the host player, if present.
func (l *Lobby) Host() (*Player, bool) {
	p, ok := l.Players[l.HostID]
	return p, ok
}

// PublicInfo is what a not-yet-joined client may see about a lobby.
type PublicInfo struct {
	TakenSkins  []string    `json:"takenSkins"`
	TakenColors []string    `json:"takenColors"`
	PlayerCount int         `json:"playerCount"`
	Status      LobbyStatus `json:"status"`
}

// GameRecord 游戏记录，大厅进入 ended 状态时保存
type GameRecord struct {
	LobbyID   string       `json:"lobby_id"`
	Winner    Winner       `json:"winner"`
	WinReason string       `json:"win_reason"`
	Players   []PlayerInfo `json:"players"`
	EndedAt   time.Time    `json:"ended_at"`
}

// PlayerInfo 玩家信息（用于游戏记录）
type PlayerInfo struct {
	Name    string       `json:"name"`
	Role    Role         `json:"role"`
	Status  PlayerStatus `json:"status"`
	Outcome string       `json:"outcome"` // win/lose
}

// PlayerStats aggregates records for one display name.
type PlayerStats struct {
	Name       string `json:"name"`
	TotalGames int    `json:"total_games"`
	Wins       int    `json:"wins"`
	Losses     int    `json:"losses"`
}
