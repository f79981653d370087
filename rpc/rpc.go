package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"time"

	"github.com/aryansinha9/irl-among-us/lobby"
	"github.com/aryansinha9/irl-among-us/logger"
	"github.com/aryansinha9/irl-among-us/models"
	"github.com/aryansinha9/irl-among-us/services"
)

// ServiceName is the net/rpc name the admin service registers under.
const ServiceName = "LobbyService"

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	address  string
	rpc      *rpc.Server
}

// NewServer listens on addr and registers svc under ServiceName.
func NewServer(addr string, svc *LobbyService) (*Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(ServiceName, svc); err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		listener: listener,
		address:  listener.Addr().String(),
		rpc:      server,
	}, nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	return s.address
}

// Start begins listening for RPC requests and returns once the listener is closed.
func (s *Server) Start() error {
	logger.Log.Infof("RPC server listening on %s", s.address)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return nil
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.rpc.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		_ = s.listener.Close()
	}
}

// LobbyService 管理接口：查看大厅、重置大厅、查询历史
type LobbyService struct {
	lobbies *lobby.Manager
	records *services.RecordService
	timeout time.Duration
}

func NewLobbyService(lobbies *lobby.Manager, records *services.RecordService) *LobbyService {
	return &LobbyService{lobbies: lobbies, records: records, timeout: 10 * time.Second}
}

func (ls *LobbyService) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), ls.timeout)
}

// net/rpc signatures: exported method, exported args, pointer reply, error return.
type LobbyArgs struct {
	Code string
}

type PlayerArgs struct {
	Name string
}

type PublicInfoReply struct {
	Info models.PublicInfo
}

type Ack struct {
	OK bool
}

type HistoryReply struct {
	Records []models.GameRecord
}

type PlayerStatsReply struct {
	Stats models.PlayerStats
}

func (ls *LobbyService) GetPublicInfo(args *LobbyArgs, reply *PublicInfoReply) error {
	ctx, cancel := ls.opContext()
	defer cancel()
	info, err := ls.lobbies.GetLobbyPublicInfo(ctx, args.Code)
	if err != nil {
		return err
	}
	reply.Info = info
	return nil
}

func (ls *LobbyService) ResetLobby(args *LobbyArgs, reply *Ack) error {
	ctx, cancel := ls.opContext()
	defer cancel()
	if err := ls.lobbies.ResetLobby(ctx, args.Code); err != nil {
		return err
	}
	logger.Log.Infow("lobby reset over rpc", "lobby", args.Code)
	reply.OK = true
	return nil
}

func (ls *LobbyService) ListHistory(args *LobbyArgs, reply *HistoryReply) error {
	ctx, cancel := ls.opContext()
	defer cancel()
	records, err := ls.records.LobbyHistory(ctx, args.Code)
	if err != nil {
		return err
	}
	reply.Records = records
	return nil
}

func (ls *LobbyService) GetPlayerStats(args *PlayerArgs, reply *PlayerStatsReply) error {
	ctx, cancel := ls.opContext()
	defer cancel()
	stats, err := ls.records.PlayerStats(ctx, args.Name)
	if err != nil {
		return err
	}
	reply.Stats = stats
	return nil
}
