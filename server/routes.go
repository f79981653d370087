package server

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"github.com/aryansinha9/irl-among-us/cosmetics"
	"github.com/aryansinha9/irl-among-us/errs"
	"github.com/aryansinha9/irl-among-us/logger"
	"github.com/aryansinha9/irl-among-us/network"
)

const qrSize = 320

// Handler builds the HTTP routes: JSON API, health and the websocket endpoint.
func (s *GameServer) Handler() http.Handler {
	r := chi.NewRouter()

	r.Route("/api/lobbies", func(r chi.Router) {
		r.Post("/", s.createLobby)
		r.Get("/{code}", s.lobbyInfo)
		r.Post("/{code}/players", s.joinLobby)
		r.Get("/{code}/qr", s.lobbyQR)
		r.Get("/{code}/history", s.lobbyHistory)
	})
	r.Get("/api/players/{name}/stats", s.playerStats)
	r.Get("/healthz", Healthz)
	r.Get("/ws", s.handleWebSocket)
	return r
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type createLobbyResponse struct {
	Code     string `json:"code"`
	PlayerID string `json:"playerId"`
}

func (s *GameServer) createLobby(w http.ResponseWriter, r *http.Request) {
	var req network.CreateLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.E(errs.KindInvalidArgument, "server.createLobby", err))
		return
	}
	code, hostID, err := s.lobbies.CreateLobby(r.Context(), req.Name, req.Skin)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createLobbyResponse{Code: code, PlayerID: hostID})
}

func (s *GameServer) joinLobby(w http.ResponseWriter, r *http.Request) {
	var req network.CreateLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errs.E(errs.KindInvalidArgument, "server.joinLobby", err))
		return
	}
	code := chi.URLParam(r, "code")
	playerID, err := s.lobbies.JoinLobby(r.Context(), code, req.Name, req.Skin)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createLobbyResponse{Code: cosmetics.NormalizeCode(code), PlayerID: playerID})
}

func (s *GameServer) lobbyInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.lobbies.GetLobbyPublicInfo(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// lobbyQR renders a PNG QR code of the join link for a lobby.
func (s *GameServer) lobbyQR(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	if _, err := s.lobbies.GetLobbyPublicInfo(r.Context(), code); err != nil {
		writeError(w, err)
		return
	}

	png, err := qrcode.Encode(joinURL(r, cosmetics.NormalizeCode(code)), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, errs.E(errs.KindInternal, "server.lobbyQR", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// joinURL derives the public join link, respecting TLS and X-Forwarded-Proto.
func joinURL(r *http.Request, code string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	u := url.URL{Scheme: scheme, Host: r.Host, Path: "/join", RawQuery: url.Values{"code": {code}}.Encode()}
	return u.String()
}

func (s *GameServer) lobbyHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.LobbyHistory(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *GameServer) playerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.records.PlayerStats(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warnw("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	reply := network.ErrorReply(err)
	writeJSON(w, reply.Error.Code.HTTPStatus(), reply)
}
