package state

import (
	"errors"
	"sync"

	"github.com/aryansinha9/irl-among-us/models"
)

// 状态机接口
type StateMachine interface {
	ChangeState(c *Change, to models.LobbyStatus) error
	AddTransition(from, to models.LobbyStatus, condition func(c *Change) bool) error
	CanTransition(from, to models.LobbyStatus) bool
}

// 状态接口
type State interface {
	OnEnter(c *Change)
	OnExit(c *Change)
	GetID() models.LobbyStatus
}

// ErrTransitionNotAllowed is returned when a state transition is not allowed.
var ErrTransitionNotAllowed = errors.New("state transition not allowed")

// ErrUnknownState is returned when a transition names a state that was never registered.
var ErrUnknownState = errors.New("unknown state")

// 基础状态机实现。状态本身存储在大厅文档里，状态机只负责校验转换和执行钩子，
// 所以一个实例可以被所有大厅共享。
type BaseStateMachine struct {
	states      map[models.LobbyStatus]State
	transitions map[models.LobbyStatus]map[models.LobbyStatus]func(c *Change) bool // fromState -> toState -> condition
	mutex       sync.RWMutex
}

func NewBaseStateMachine(states ...State) *BaseStateMachine {
	machine := &BaseStateMachine{
		states:      make(map[models.LobbyStatus]State, len(states)),
		transitions: make(map[models.LobbyStatus]map[models.LobbyStatus]func(c *Change) bool),
	}
	for _, s := range states {
		machine.states[s.GetID()] = s
	}
	return machine
}

// ChangeState moves the lobby in c to status to. Only registered transitions
// are allowed; the condition, when present, must hold. On success the old
// state's OnExit and the new state's OnEnter have both run against c.
func (sm *BaseStateMachine) ChangeState(c *Change, to models.LobbyStatus) error {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	from := c.Lobby.Status
	current, ok := sm.states[from]
	if !ok {
		return ErrUnknownState
	}
	next, ok := sm.states[to]
	if !ok {
		return ErrUnknownState
	}

	// 检查是否有转换条件
	conditions, exists := sm.transitions[from]
	if !exists {
		return ErrTransitionNotAllowed
	}
	condition, exists := conditions[to]
	if !exists {
		return ErrTransitionNotAllowed
	}
	c.From, c.To = from, to
	if condition != nil && !condition(c) {
		return ErrTransitionNotAllowed
	}

	current.OnExit(c)
	c.Lobby.Status = to
	c.Set("status", to)
	next.OnEnter(c)

	return nil
}

func (sm *BaseStateMachine) AddTransition(from, to models.LobbyStatus, condition func(c *Change) bool) error {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if _, ok := sm.states[from]; !ok {
		return ErrUnknownState
	}
	if _, ok := sm.states[to]; !ok {
		return ErrUnknownState
	}

	if _, exists := sm.transitions[from]; !exists {
		sm.transitions[from] = make(map[models.LobbyStatus]func(c *Change) bool)
	}

	sm.transitions[from][to] = condition
	return nil
}

// CanTransition reports whether a transition is registered, ignoring its condition.
func (sm *BaseStateMachine) CanTransition(from, to models.LobbyStatus) bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	_, ok := sm.transitions[from][to]
	return ok
}

// 大厅状态基础结构
type LobbyStateBase struct {
	ID models.LobbyStatus
}

func (s *LobbyStateBase) GetID() models.LobbyStatus {
	return s.ID
}

func (s *LobbyStateBase) OnEnter(c *Change) {
	// 默认实现
}

func (s *LobbyStateBase) OnExit(c *Change) {
	// 默认实现
}
