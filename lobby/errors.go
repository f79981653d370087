package lobby

import (
	"context"
	"errors"
	"fmt"

	"github.com/aryansinha9/irl-among-us/errs"
	"github.com/aryansinha9/irl-among-us/models"
	"github.com/aryansinha9/irl-among-us/persistence"
	"github.com/aryansinha9/irl-among-us/state"
)

// 错误定义
var (
	ErrLobbyNotFound    = errors.New("lobby not found")
	ErrPlayerNotFound   = errors.New("player not found")
	ErrSkinTaken        = errors.New("skin already taken")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrWrongStatus      = errors.New("action not allowed in current lobby status")
	ErrMeetingResolved  = errors.New("meeting already resolved")
	ErrTaskNotFound     = errors.New("task not found")
	ErrInvalidCode      = errors.New("lobby code must be 4 letters")
	ErrInvalidName      = errors.New("name is required")
	ErrInvalidSkin      = errors.New("skin is required")
	ErrInvalidSettings  = errors.New("invalid settings")
	ErrNotHost          = errors.New("only the host may do this")
	ErrHostNotPlayable  = errors.New("the host does not take part in play")
	ErrPlayerDead       = errors.New("player is dead")
)

// fail classifies err for op. Errors that already carry a kind pass through.
func fail(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *errs.Error
	switch {
	case errors.As(err, &e):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return errs.E(errs.KindTimeout, op, fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
	case errors.Is(err, persistence.ErrRecordNotFound):
		return errs.E(errs.KindNotFound, op, err)
	case errors.Is(err, state.ErrTransitionNotAllowed):
		return errs.E(errs.KindInvalidState, op, fmt.Errorf("%w: %w", ErrWrongStatus, err))
	case errors.Is(err, persistence.ErrInvalidDocument):
		return errs.E(errs.KindInvalidArgument, op, err)
	default:
		return errs.E(errs.KindInternal, op, err)
	}
}

func wrongStatus(op string, l *models.Lobby) error {
	return errs.E(errs.KindInvalidState, op, fmt.Errorf("%w: lobby %s is %s", ErrWrongStatus, l.ID, l.Status))
}

func playerNotFound(op, playerID string) error {
	return errs.E(errs.KindNotFound, op, fmt.Errorf("%w: %s", ErrPlayerNotFound, playerID))
}
