package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/aryansinha9/irl-among-us/broadcast"
	"github.com/aryansinha9/irl-among-us/errs"
	"github.com/aryansinha9/irl-among-us/lobby"
	"github.com/aryansinha9/irl-among-us/logger"
	"github.com/aryansinha9/irl-among-us/monitor"
	"github.com/aryansinha9/irl-among-us/network"
	"github.com/aryansinha9/irl-among-us/persistence"
	"github.com/aryansinha9/irl-among-us/rpc"
	"github.com/aryansinha9/irl-among-us/services"
	"github.com/aryansinha9/irl-among-us/session"
	"github.com/aryansinha9/irl-among-us/timer"
)

// Options are the listener addresses and connection limits. An empty
// address disables that listener, except HTTP.
type Options struct {
	HTTPAddress        string
	RPCAddress         string
	GRPCAddress        string
	MetricsAddress     string
	SessionIdleTimeout time.Duration
	Heartbeat          time.Duration
}

type GameServer struct {
	opts           Options
	upgrader       websocket.Upgrader
	lobbies        *lobby.Manager
	sessionManager *session.Manager
	broadcaster    *broadcast.LobbyBroadcaster
	records        *services.RecordService
	monitor        *monitor.Monitor
	timers         *timer.TimerManager
	shutdownOnce   sync.Once
	shutdownChan   chan struct{}
}

func NewGameServer(opts Options, lobbies *lobby.Manager, recorder persistence.Recorder, mon *monitor.Monitor) *GameServer {
	s := &GameServer{
		opts:           opts,
		lobbies:        lobbies,
		sessionManager: session.NewManager(),
		records:        services.NewRecordService(recorder),
		monitor:        mon,
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}

	// 初始化广播器
	s.broadcaster = broadcast.NewLobbyBroadcaster(lobbies, s.sessionManager, nil)
	return s
}

// Start runs every configured listener until ctx is cancelled or one of
// them fails.
func (s *GameServer) Start(ctx context.Context) error {
	// 先绑定所有 RPC 端口，失败时还没有任何协程在运行
	var rpcServer *rpc.Server
	if s.opts.RPCAddress != "" {
		var err error
		rpcServer, err = rpc.NewServer(s.opts.RPCAddress, rpc.NewLobbyService(s.lobbies, s.records))
		if err != nil {
			return err
		}
	}
	var health *rpc.HealthServer
	if s.opts.GRPCAddress != "" {
		var err error
		health, err = rpc.NewHealthServer(s.opts.GRPCAddress)
		if err != nil {
			if rpcServer != nil {
				rpcServer.Stop()
			}
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{Addr: s.opts.HTTPAddress, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		logger.Log.Infof("Lobby server listening on %s", s.opts.HTTPAddress)
		return ignoreClosed(httpServer.ListenAndServe())
	})

	var metricsServer *http.Server
	if s.opts.MetricsAddress != "" && s.monitor != nil {
		metricsServer = &http.Server{Addr: s.opts.MetricsAddress, Handler: s.monitor.Handler(), ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			logger.Log.Infof("Metrics listening on %s", s.opts.MetricsAddress)
			return ignoreClosed(metricsServer.ListenAndServe())
		})
	}
	if rpcServer != nil {
		g.Go(rpcServer.Start)
	}
	if health != nil {
		g.Go(func() error { return health.Serve(ctx) })
	}

	s.startHousekeeping()

	g.Go(func() error {
		<-ctx.Done()
		s.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		if rpcServer != nil {
			rpcServer.Stop()
		}
		return nil
	})

	return g.Wait()
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops housekeeping, drops every subscription and closes every
// websocket. Hijacked connections are not closed by http.Server.Shutdown.
func (s *GameServer) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)
		if s.timers != nil {
			s.timers.Stop()
		}
		s.broadcaster.Close()
		if notice, err := json.Marshal(network.ErrorReply(errs.E(errs.KindInternal, "server.Shutdown", ErrShuttingDown))); err == nil {
			_ = s.broadcaster.BroadcastToAll(network.MsgTypeError, notice)
		}
		for _, sess := range s.sessionManager.All() {
			_ = sess.Close()
		}
	})
}

func (s *GameServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn)
}

func (s *GameServer) handleConnection(conn *websocket.Conn) {
	wsConn := network.NewWSConnection(conn)
	if s.opts.Heartbeat > 0 {
		wsConn.SetHeartbeat(s.opts.Heartbeat)
	}
	sess := session.NewSession(uuid.New().String(), wsConn)
	s.sessionManager.Add(sess)
	s.monitor.IncOnlinePlayers()

	logger.Log.Infof("New connection from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())

	defer func() {
		logger.Log.Infof("Connection closed from %s, session ID: %s", wsConn.RemoteAddr(), sess.GetID())
		s.sessionManager.Remove(sess.GetID())
		s.broadcaster.Release(sess.LobbyID())
		s.monitor.DecOnlinePlayers()
		wsConn.Close()
	}()

	for {
		select {
		case <-s.shutdownChan:
			return
		default:
			packet, err := wsConn.ReadPacket()
			if err != nil {
				return
			}
			s.handlePacket(sess, packet)
		}
	}
}
