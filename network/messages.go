package network

import (
	"encoding/json"
	"errors"

	"github.com/aryansinha9/irl-among-us/errs"
	"github.com/aryansinha9/irl-among-us/models"
)

// CreateLobbyRequest / JoinLobbyRequest carry the player's chosen identity.
type CreateLobbyRequest struct {
	Name string `json:"name"`
	Skin string `json:"skin"`
}

type JoinLobbyRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Skin string `json:"skin"`
}

// RejoinRequest binds a fresh connection to an existing player.
type RejoinRequest struct {
	Code     string `json:"code"`
	PlayerID string `json:"playerId"`
}

type PublicInfoRequest struct {
	Code string `json:"code"`
}

// PlayerRequest targets a player; an empty PlayerID means the sender.
type PlayerRequest struct {
	PlayerID string `json:"playerId,omitempty"`
}

type SettingsRequest struct {
	Settings models.Settings `json:"settings"`
}

// StartGameRequest may override the lobby's stored settings.
type StartGameRequest struct {
	Settings *models.Settings `json:"settings,omitempty"`
}

type TaskRequest struct {
	Index int `json:"index"`
}

type VoteRequest struct {
	TargetID string `json:"targetId"`
}

// Identity is returned after create, join and rejoin.
type Identity struct {
	LobbyID  string         `json:"lobbyId"`
	PlayerID string         `json:"playerId"`
	Player   *models.Player `json:"player,omitempty"`
	Found    bool           `json:"found"`
}

// LobbySnapshot is pushed to every session in a lobby after each write.
// ServerTime lets clients derive the meeting phase against the server clock.
type LobbySnapshot struct {
	Version    int64         `json:"version"`
	ServerTime int64         `json:"serverTime"`
	Lobby      *models.Lobby `json:"lobby"`
}

// WireError is the error body of a failed request.
type WireError struct {
	Code    errs.Kind `json:"code"`
	Message string    `json:"message"`
}

// Reply answers a request under the request's msg id.
type Reply struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error *WireError  `json:"error,omitempty"`
}

// ErrorReply converts err into its wire form.
func ErrorReply(err error) Reply {
	kind := errs.KindOf(err)
	if kind == errs.KindUnknown {
		kind = errs.KindInternal
	}
	msg := err.Error()
	var e *errs.Error
	if errors.As(err, &e) && e.Err != nil {
		msg = e.Err.Error()
	}
	return Reply{Error: &WireError{Code: kind, Message: msg}}
}

// OKReply wraps a successful result.
func OKReply(data interface{}) Reply {
	return Reply{OK: true, Data: data}
}

// Decode unmarshals a request body. An empty body leaves v untouched.
func Decode(data []byte, v interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errs.E(errs.KindInvalidArgument, "network.Decode", err)
	}
	return nil
}
