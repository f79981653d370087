package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aryansinha9/irl-among-us/cosmetics"
	"github.com/aryansinha9/irl-among-us/errs"
	"github.com/aryansinha9/irl-among-us/logger"
	"github.com/aryansinha9/irl-among-us/network"
	"github.com/aryansinha9/irl-among-us/session"
)

var (
	ErrNotInLobby     = errors.New("session is not in a lobby")
	ErrUnknownMessage = errors.New("unknown message type")
	ErrKicked         = errors.New("removed from lobby by the host")
	ErrShuttingDown   = errors.New("server shutting down")
)

func (s *GameServer) handlePacket(sess *session.Session, packet *network.Packet) {
	start := time.Now()
	sess.Touch(start)
	s.monitor.IncMessagesReceived()
	defer func() { s.monitor.ObserveMessageLatency(time.Since(start)) }()

	if packet.MsgID == network.MsgTypeHeartbeat {
		_ = sess.Send(network.MsgTypeHeartbeat, nil)
		return
	}

	data, err := s.dispatch(context.Background(), sess, packet)
	reply := network.OKReply(data)
	if err != nil {
		lobbyID, playerID := sess.Identity()
		logger.Log.Warnw("request failed", "msg", packet.MsgID, "session", sess.GetID(),
			"lobby", lobbyID, "player", playerID, "kind", errs.KindOf(err), "error", err)
		reply = network.ErrorReply(err)
	}
	if err := network.SendJSON(sess.Conn, packet.MsgID, reply); err != nil {
		logger.Log.Warnw("reply send failed", "msg", packet.MsgID, "session", sess.GetID(), "error", err)
	}
}

// dispatch runs one request. Requests that establish an identity come first;
// everything else acts on the session's bound lobby and player.
func (s *GameServer) dispatch(ctx context.Context, sess *session.Session, packet *network.Packet) (interface{}, error) {
	switch packet.MsgID {
	case network.MsgTypeCreateLobby:
		var req network.CreateLobbyRequest
		if err := network.Decode(packet.Data, &req); err != nil {
			return nil, err
		}
		lobbyID, playerID, err := s.lobbies.CreateLobby(ctx, req.Name, req.Skin)
		if err != nil {
			return nil, err
		}
		return s.bind(sess, lobbyID, playerID)

	case network.MsgTypeJoinLobby:
		var req network.JoinLobbyRequest
		if err := network.Decode(packet.Data, &req); err != nil {
			return nil, err
		}
		playerID, err := s.lobbies.JoinLobby(ctx, req.Code, req.Name, req.Skin)
		if err != nil {
			return nil, err
		}
		return s.bind(sess, cosmetics.NormalizeCode(req.Code), playerID)

	case network.MsgTypeRejoin:
		var req network.RejoinRequest
		if err := network.Decode(packet.Data, &req); err != nil {
			return nil, err
		}
		p, found, err := s.lobbies.Rejoin(ctx, req.Code, req.PlayerID)
		if err != nil {
			return nil, err
		}
		if !found {
			return network.Identity{Found: false}, nil
		}
		id, err := s.bind(sess, cosmetics.NormalizeCode(req.Code), p.ID)
		if err != nil {
			return nil, err
		}
		id.Player = p
		return id, nil

	case network.MsgTypePublicInfo:
		var req network.PublicInfoRequest
		if err := network.Decode(packet.Data, &req); err != nil {
			return nil, err
		}
		return s.lobbies.GetLobbyPublicInfo(ctx, req.Code)
	}

	lobbyID, playerID := sess.Identity()
	if lobbyID == "" {
		return nil, errs.E(errs.KindInvalidState, "server.dispatch", ErrNotInLobby)
	}
	if network.HostOnly(packet.MsgID) {
		if err := s.lobbies.RequireHost(ctx, lobbyID, playerID); err != nil {
			return nil, err
		}
	}

	switch packet.MsgID {
	case network.MsgTypeKickPlayer:
		var req network.PlayerRequest
		if err := network.Decode(packet.Data, &req); err != nil {
			return nil, err
		}
		if err := s.lobbies.KickPlayer(ctx, lobbyID, req.PlayerID); err != nil {
			return nil, err
		}
		notice := network.ErrorReply(errs.E(errs.KindNotFound, "server.kick", ErrKicked))
		for _, kicked := range s.sessionManager.GetByPlayer(lobbyID, req.PlayerID) {
			_ = network.SendJSON(kicked.Conn, network.MsgTypeError, notice)
			_ = kicked.Close()
		}
		return nil, nil

	case network.MsgTypeUpdateSettings:
		var req network.SettingsRequest
		if err := network.Decode(packet.Data, &req); err != nil {
			return nil, err
		}
		return nil, s.lobbies.UpdateSettings(ctx, lobbyID, req.Settings)

	case network.MsgTypeStartGame:
		var req network.StartGameRequest
		if err := network.Decode(packet.Data, &req); err != nil {
			return nil, err
		}
		return nil, s.lobbies.StartGame(ctx, lobbyID, req.Settings)

	case network.MsgTypeResetLobby:
		return nil, s.lobbies.ResetLobby(ctx, lobbyID)
	case network.MsgTypeTriggerIntro:
		return nil, s.lobbies.TriggerIntro(ctx, lobbyID)
	case network.MsgTypeTriggerSabotage:
		return nil, s.lobbies.TriggerSabotage(ctx, lobbyID)
	case network.MsgTypeResolveSabotage:
		return nil, s.lobbies.ResolveSabotage(ctx, lobbyID)
	case network.MsgTypeReportBody:
		return nil, s.lobbies.ReportBody(ctx, lobbyID, playerID)
	case network.MsgTypeCallEmergency:
		return nil, s.lobbies.CallEmergency(ctx, lobbyID, playerID)

	case network.MsgTypeCompleteTask:
		var req network.TaskRequest
		if err := network.Decode(packet.Data, &req); err != nil {
			return nil, err
		}
		return nil, s.lobbies.CompleteTask(ctx, lobbyID, playerID, req.Index)

	case network.MsgTypeEliminate:
		var req network.PlayerRequest
		if err := network.Decode(packet.Data, &req); err != nil {
			return nil, err
		}
		target := playerID
		if req.PlayerID != "" && req.PlayerID != playerID {
			// 只有房主可以替别人登记死亡
			if err := s.lobbies.RequireHost(ctx, lobbyID, playerID); err != nil {
				return nil, err
			}
			target = req.PlayerID
		}
		return nil, s.lobbies.EliminatePlayer(ctx, lobbyID, target)

	case network.MsgTypeCastVote:
		var req network.VoteRequest
		if err := network.Decode(packet.Data, &req); err != nil {
			return nil, err
		}
		return nil, s.lobbies.CastVote(ctx, lobbyID, playerID, req.TargetID)

	case network.MsgTypeSkipDiscussion:
		return nil, s.lobbies.SkipDiscussion(ctx, lobbyID)
	case network.MsgTypeEndMeeting:
		return s.lobbies.EndMeeting(ctx, lobbyID)
	case network.MsgTypeResumeGame:
		return nil, s.lobbies.ResumeGame(ctx, lobbyID)
	}

	return nil, errs.E(errs.KindInvalidArgument, "server.dispatch", fmt.Errorf("%w: %d", ErrUnknownMessage, packet.MsgID))
}

// bind attaches sess to the player and starts pushing lobby snapshots.
func (s *GameServer) bind(sess *session.Session, lobbyID, playerID string) (network.Identity, error) {
	previous := sess.LobbyID()
	sess.Bind(lobbyID, playerID)
	if previous != "" && previous != lobbyID {
		s.broadcaster.Release(previous)
	}
	if err := s.broadcaster.Follow(sess, lobbyID); err != nil {
		return network.Identity{}, err
	}
	logger.Log.Infow("session bound", "session", sess.GetID(), "lobby", lobbyID, "player", playerID)
	return network.Identity{LobbyID: lobbyID, PlayerID: playerID, Found: true}, nil
}
