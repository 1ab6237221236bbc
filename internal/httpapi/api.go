package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/h-sameri/smart-duck/internal/bot"
	"github.com/h-sameri/smart-duck/internal/store"
	"github.com/h-sameri/smart-duck/internal/version"
)

// Server serves the REST API. All data endpoints require a token
// issued for the owning chat.
type Server struct {
	registry bot.Registry
	balances bot.Balances
	wallets  *bot.Wallets
	issuer   *TokenIssuer
	log      *zap.Logger
}

// NewServer wires the API.
func NewServer(registry bot.Registry, balances bot.Balances, wallets *bot.Wallets, issuer *TokenIssuer, log *zap.Logger) *Server {
	return &Server{
		registry: registry,
		balances: balances,
		wallets:  wallets,
		issuer:   issuer,
		log:      log,
	}
}

// Routes returns the API handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, version.Info())
	})
	mux.HandleFunc("POST /v1/auth/token", s.issueToken)
	mux.HandleFunc("GET /v1/agents", s.issuer.authenticate(s.listAgents))
	mux.HandleFunc("GET /v1/agents/{id}/balances", s.issuer.authenticate(s.agentBalances))
	return mux
}

type tokenRequest struct {
	ChatID int64 `json:"chat_id"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// issueToken mints a token for a registered chat. Possession of the
// chat id is the trust anchor here; the chat transport already
// authenticated it.
func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if _, err := s.registry.UserByChatID(r.Context(), req.ChatID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown chat")
			return
		}
		s.internalError(w, err)
		return
	}
	token, err := s.issuer.Issue(req.ChatID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

type agentView struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Instructions  string `json:"instructions"`
	EscrowAddress string `json:"escrow_address"`
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	agents, err := s.registry.AgentsByUser(r.Context(), user.ID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	views := make([]agentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, agentView{
			ID:            a.ID,
			Name:          a.Name,
			Instructions:  a.Instructions,
			EscrowAddress: a.EscrowAddress,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

type balancesView struct {
	Escrow   map[string]string `json:"escrow"`
	ActorGas string            `json:"actor_gas"`
}

func (s *Server) agentBalances(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	agentID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed agent id")
		return
	}
	agent, err := s.registry.AgentByID(r.Context(), agentID, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown agent")
			return
		}
		s.internalError(w, err)
		return
	}

	holdings, err := s.balances.All(r.Context(), common.HexToAddress(agent.EscrowAddress))
	if err != nil {
		s.internalError(w, err)
		return
	}
	view := balancesView{Escrow: make(map[string]string, len(holdings))}
	for symbol, amount := range holdings {
		view.Escrow[symbol] = amount.String()
	}

	if actor, err := s.wallets.Actor(user.ID, agent.Name); err == nil {
		if gas, err := s.balances.Native(r.Context(), actor.Address); err == nil {
			view.ActorGas = gas.String()
		}
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (*store.User, bool) {
	chatID, ok := chatIDFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing identity")
		return nil, false
	}
	user, err := s.registry.UserByChatID(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unknown chat")
			return nil, false
		}
		s.internalError(w, err)
		return nil, false
	}
	return user, true
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
