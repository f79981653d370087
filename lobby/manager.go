// lobby/manager.go
package lobby

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/aryansinha9/irl-among-us/cosmetics"
	"github.com/aryansinha9/irl-among-us/errs"
	"github.com/aryansinha9/irl-among-us/game"
	"github.com/aryansinha9/irl-among-us/logger"
	"github.com/aryansinha9/irl-among-us/models"
	"github.com/aryansinha9/irl-among-us/monitor"
	"github.com/aryansinha9/irl-among-us/persistence"
	"github.com/aryansinha9/irl-among-us/state"
	"github.com/aryansinha9/irl-among-us/tasks"
)

// DefaultTimeout bounds every store round trip made by one operation.
const DefaultTimeout = 5 * time.Second

// Manager 大厅管理器。大厅本身保存在共享存储里，Manager 不持有任何大厅状态，
// 每个操作都是一次独立的读-改-写。
type Manager struct {
	store          persistence.Store
	recorder       persistence.Recorder
	machine        state.StateMachine
	clock          game.Clock
	pool           *tasks.Pool
	monitor        *monitor.Monitor
	defaults       models.Settings
	tasksPerPlayer int
	timeout        time.Duration

	rngMutex sync.Mutex
	rng      *rand.Rand

	// 同一进程内的胜负结算串行执行，避免重复结束和重复记录
	settleMutex sync.Mutex
}

type Option func(*Manager)

// WithRecorder saves a game record whenever a lobby ends.
func WithRecorder(r persistence.Recorder) Option { return func(m *Manager) { m.recorder = r } }

func WithClock(c game.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithRand makes role draws and color picks reproducible.
func WithRand(r *rand.Rand) Option { return func(m *Manager) { m.rng = r } }

func WithMonitor(mon *monitor.Monitor) Option { return func(m *Manager) { m.monitor = mon } }

func WithPool(p *tasks.Pool) Option { return func(m *Manager) { m.pool = p } }

// WithDefaults sets the settings new lobbies start with.
func WithDefaults(s models.Settings) Option { return func(m *Manager) { m.defaults = s } }

func WithTasksPerPlayer(n int) Option { return func(m *Manager) { m.tasksPerPlayer = n } }

// WithTimeout bounds each operation's store calls.
func WithTimeout(d time.Duration) Option { return func(m *Manager) { m.timeout = d } }

// NewManager 创建一个新的大厅管理器
func NewManager(store persistence.Store, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		machine:        state.NewLobbyMachine(),
		clock:          game.SystemClock{},
		pool:           tasks.NewPool(nil),
		defaults:       models.DefaultSettings(),
		tasksPerPlayer: tasks.DefaultPerPlayer,
		timeout:        DefaultTimeout,
		rng:            rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) withRand(fn func(r *rand.Rand)) {
	m.rngMutex.Lock()
	defer m.rngMutex.Unlock()
	fn(m.rng)
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

// load fetches a lobby by a user-supplied code.
func (m *Manager) load(ctx context.Context, op, code string) (*models.Lobby, error) {
	id := cosmetics.NormalizeCode(code)
	if !cosmetics.ValidCode(id) {
		return nil, errs.E(errs.KindInvalidArgument, op, fmt.Errorf("%w: %q", ErrInvalidCode, code))
	}

	start := time.Now()
	l, err := m.store.Get(ctx, id)
	m.monitor.ObserveStoreLatency("get", time.Since(start))
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, errs.E(errs.KindNotFound, op, fmt.Errorf("%w: %s", ErrLobbyNotFound, id))
	}
	if err != nil {
		return nil, fail(op, err)
	}
	return l, nil
}

func (m *Manager) update(ctx context.Context, op, lobbyID string, updates models.Updates) error {
	start := time.Now()
	err := m.store.Update(ctx, lobbyID, updates)
	m.monitor.ObserveStoreLatency("update", time.Since(start))
	if err != nil {
		logger.Log.Errorw("store update failed", "op", op, "lobby", lobbyID, "error", err)
	}
	return fail(op, err)
}

func (m *Manager) put(ctx context.Context, op string, l *models.Lobby) error {
	start := time.Now()
	err := m.store.Put(ctx, l.ID, l)
	m.monitor.ObserveStoreLatency("put", time.Since(start))
	if err != nil {
		logger.Log.Errorw("store put failed", "op", op, "lobby", l.ID, "error", err)
	}
	return fail(op, err)
}

// Get returns the current lobby document.
func (m *Manager) Get(ctx context.Context, code string) (*models.Lobby, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()
	return m.load(ctx, "lobby.Get", code)
}

// CreateLobby 创建大厅，创建者成为房主（观众身份）
func (m *Manager) CreateLobby(ctx context.Context, hostName, skin string) (lobbyID, hostID string, err error) {
	const op = "lobby.CreateLobby"
	hostName = strings.TrimSpace(hostName)
	if hostName == "" {
		return "", "", errs.E(errs.KindInvalidArgument, op, ErrInvalidName)
	}
	if strings.TrimSpace(skin) == "" {
		return "", "", errs.E(errs.KindInvalidArgument, op, ErrInvalidSkin)
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	hostID = cosmetics.NewPlayerID()
	var color string
	m.withRand(func(r *rand.Rand) { color, _ = cosmetics.PickColor(r, nil) })

	l := &models.Lobby{
		ID:        cosmetics.GenerateCode(),
		HostID:    hostID,
		Status:    models.StatusWaiting,
		CreatedAt: game.Millis(m.clock.Now()),
		Settings:  m.defaults,
		Players: map[string]*models.Player{
			hostID: newPlayer(hostID, hostName, color, skin, true),
		},
	}
	if err := m.put(ctx, op, l); err != nil {
		return "", "", err
	}

	m.monitor.IncLobbiesCreated()
	logger.Log.Infow("lobby created", "lobby", l.ID, "host", hostID, "name", hostName)
	return l.ID, hostID, nil
}

func newPlayer(id, name, color, skin string, isHost bool) *models.Player {
	return &models.Player{
		ID:             id,
		Name:           name,
		Color:          color,
		CharacterImage: cosmetics.SkinImage(skin),
		Role:           models.RoleSpectator,
		IsHost:         isHost,
		Status:         models.PlayerAlive,
		Tasks:          []models.Task{},
	}
}

// JoinLobby 加入大厅。皮肤冲突返回 Conflict；颜色用尽时复用随机颜色，不算错误。
func (m *Manager) JoinLobby(ctx context.Context, code, name, skin string) (playerID string, err error) {
	const op = "lobby.JoinLobby"
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errs.E(errs.KindInvalidArgument, op, ErrInvalidName)
	}
	if strings.TrimSpace(skin) == "" {
		return "", errs.E(errs.KindInvalidArgument, op, ErrInvalidSkin)
	}

	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	l, err := m.load(ctx, op, code)
	if err != nil {
		return "", err
	}
	if cosmetics.SkinTaken(l.Players, skin) {
		return "", errs.E(errs.KindConflict, op, fmt.Errorf("%w: %s", ErrSkinTaken, skin))
	}

	var (
		color  string
		reused bool
	)
	m.withRand(func(r *rand.Rand) { color, reused = cosmetics.PickColor(r, cosmetics.TakenColors(l.Players)) })
	if reused {
		logger.Log.Warnw("color palette exhausted, reusing a color", "lobby", l.ID, "color", color)
	}

	playerID = cosmetics.NewPlayerID()
	p := newPlayer(playerID, name, color, skin, false)
	if err := m.update(ctx, op, l.ID, models.Updates{models.PlayerPath(playerID): p}); err != nil {
		return "", err
	}

	m.monitor.IncPlayersJoined()
	logger.Log.Infow("player joined", "lobby", l.ID, "player", playerID, "name", name)
	return playerID, nil
}

// GetLobbyPublicInfo 未加入的客户端可见的信息
func (m *Manager) GetLobbyPublicInfo(ctx context.Context, code string) (models.PublicInfo, error) {
	const op = "lobby.GetLobbyPublicInfo"
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	l, err := m.load(ctx, op, code)
	if err != nil {
		return models.PublicInfo{}, err
	}
	return models.PublicInfo{
		TakenSkins:  cosmetics.TakenSkins(l.Players),
		TakenColors: cosmetics.TakenColors(l.Players),
		PlayerCount: len(l.Players),
		Status:      l.Status,
	}, nil
}

// RequireHost checks that playerID is the lobby's host. Transports call it
// before host-only operations.
func (m *Manager) RequireHost(ctx context.Context, code, playerID string) error {
	const op = "lobby.RequireHost"
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	l, err := m.load(ctx, op, code)
	if err != nil {
		return err
	}
	if l.HostID != playerID {
		return errs.E(errs.KindInvalidArgument, op, ErrNotHost)
	}
	return nil
}

// KickPlayer 移除玩家。房主不能被移除。
func (m *Manager) KickPlayer(ctx context.Context, code, playerID string) error {
	const op = "lobby.KickPlayer"
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	l, err := m.load(ctx, op, code)
	if err != nil {
		return err
	}
	if _, ok := l.Players[playerID]; !ok {
		return playerNotFound(op, playerID)
	}
	if playerID == l.HostID {
		return errs.E(errs.KindInvalidArgument, op, ErrHostNotPlayable)
	}

	if err := m.update(ctx, op, l.ID, models.Updates{models.PlayerPath(playerID): models.Delete}); err != nil {
		return err
	}
	logger.Log.Infow("player kicked", "lobby", l.ID, "player", playerID)
	return nil
}

// Rejoin looks a player up after a reconnect. A player that is no longer in
// the lobby is not an error: found is false and the client should rejoin.
func (m *Manager) Rejoin(ctx context.Context, code, playerID string) (player *models.Player, found bool, err error) {
	const op = "lobby.Rejoin"
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	l, err := m.load(ctx, op, code)
	if err != nil {
		return nil, false, err
	}
	p, ok := l.Players[playerID]
	if !ok {
		logger.Log.Warnw("reconnect for unknown player", "lobby", l.ID, "player", playerID)
		return nil, false, nil
	}
	return p, true, nil
}

// ValidateSettings checks host-supplied settings.
func ValidateSettings(s models.Settings) error {
	switch {
	case s.NumImposters < 1:
		return fmt.Errorf("%w: numImposters must be at least 1", ErrInvalidSettings)
	case s.DiscussionTime < 0 || s.VotingTime < 0:
		return fmt.Errorf("%w: times must not be negative", ErrInvalidSettings)
	}
	return nil
}

// UpdateSettings 房主在等待阶段修改设置
func (m *Manager) UpdateSettings(ctx context.Context, code string, settings models.Settings) error {
	const op = "lobby.UpdateSettings"
	if err := ValidateSettings(settings); err != nil {
		return errs.E(errs.KindInvalidArgument, op, err)
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	l, err := m.load(ctx, op, code)
	if err != nil {
		return err
	}
	if l.Status != models.StatusWaiting {
		return wrongStatus(op, l)
	}
	if err := m.update(ctx, op, l.ID, models.Updates{"settings": settings}); err != nil {
		return err
	}
	logger.Log.Infow("settings updated", "lobby", l.ID, "settings", settings)
	return nil
}

// ResetLobby 重新开始：回到 waiting，所有玩家恢复为观众
func (m *Manager) ResetLobby(ctx context.Context, code string) error {
	const op = "lobby.ResetLobby"
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	l, err := m.load(ctx, op, code)
	if err != nil {
		return err
	}
	c := state.NewChange(l, m.clock.Now())
	if err := m.machine.ChangeState(c, models.StatusWaiting); err != nil {
		return fail(op, err)
	}
	return m.update(ctx, op, l.ID, c.Updates)
}

// TriggerIntro 播放开场动画
func (m *Manager) TriggerIntro(ctx context.Context, code string) error {
	return m.setFlag(ctx, "lobby.TriggerIntro", code, func(l *models.Lobby) models.Updates {
		return models.Updates{"showIntro": true}
	})
}

// TriggerSabotage 开始灯光破坏
func (m *Manager) TriggerSabotage(ctx context.Context, code string) error {
	return m.setFlag(ctx, "lobby.TriggerSabotage", code, func(l *models.Lobby) models.Updates {
		return lightsUpdate(l, true)
	})
}

// ResolveSabotage 解除破坏，重复调用无副作用
func (m *Manager) ResolveSabotage(ctx context.Context, code string) error {
	return m.setFlag(ctx, "lobby.ResolveSabotage", code, func(l *models.Lobby) models.Updates {
		return lightsUpdate(l, false)
	})
}

// lightsUpdate writes the lights flag, creating the sabotage bag when it is null.
func lightsUpdate(l *models.Lobby, on bool) models.Updates {
	if l.Sabotage == nil {
		return models.Updates{"sabotage": models.Sabotage{LightsFlash: on}}
	}
	return models.Updates{"sabotage.lightsFlash": on}
}

func (m *Manager) setFlag(ctx context.Context, op, code string, build func(l *models.Lobby) models.Updates) error {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	l, err := m.load(ctx, op, code)
	if err != nil {
		return err
	}
	if err := m.update(ctx, op, l.ID, build(l)); err != nil {
		return err
	}
	logger.Log.Infow("flag set", "op", op, "lobby", l.ID)
	return nil
}

// Watch subscribes fn to lobby snapshots until cancel is called or ctx ends.
func (m *Manager) Watch(ctx context.Context, code string, fn func(persistence.Snapshot)) (cancel func(), err error) {
	const op = "lobby.Watch"
	id := cosmetics.NormalizeCode(code)
	if !cosmetics.ValidCode(id) {
		return nil, errs.E(errs.KindInvalidArgument, op, fmt.Errorf("%w: %q", ErrInvalidCode, code))
	}
	cancel, err = m.store.Subscribe(ctx, id, fn)
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, errs.E(errs.KindNotFound, op, fmt.Errorf("%w: %s", ErrLobbyNotFound, id))
	}
	if err != nil {
		return nil, fail(op, err)
	}
	return cancel, nil
}
