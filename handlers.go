package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

/* ======================
   Request / Response Types
   ====================== */

type PurchaseRequest struct {
	Upgrade  string `json:"upgrade"`
	PlayerID string `json:"playerId,omitempty"`
}

type ErrorResponse struct {
	OK           bool   `json:"ok"`
	Error        string `json:"error"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

type RegisterResponse struct {
	OK     bool   `json:"ok"`
	UserID string `json:"userId"`
}

type StateResponse struct {
	OK    bool      `json:"ok"`
	State StateView `json:"state"`
}

type CollectResponse struct {
	OK        bool      `json:"ok"`
	Coins     int64     `json:"coins"`
	Collected int64     `json:"collected"`
	State     StateView `json:"state"`
}

// StateView is the player state as clients see it.
type StateView struct {
	UserID              string                 `json:"userId"`
	Coins               int64                  `json:"coins"`
	Upgrades            Upgrades               `json:"upgrades"`
	LastActivityAt      time.Time              `json:"lastActivityAt"`
	LastClickAt         *time.Time             `json:"lastClickAt"`
	NextUpgradeCost     map[UpgradeKind]*int64 `json:"nextUpgradeCost"`
	CooldownRemainingMs int64                  `json:"cooldownRemainingMs"`
}

func newStateView(engine *Engine, st PlayerState, now time.Time) StateView {
	costs := make(map[UpgradeKind]*int64, len(upgradeKinds))
	for _, kind := range upgradeKinds {
		if cost, ok := engine.NextCost(st, kind); ok {
			c := cost
			costs[kind] = &c
		} else {
			costs[kind] = nil
		}
	}
	remaining := engine.CooldownRemaining(st, now)
	return StateView{
		UserID:              st.PlayerID,
		Coins:               st.Coins,
		Upgrades:            st.Upgrades,
		LastActivityAt:      st.LastActivityAt,
		LastClickAt:         st.LastClickAt,
		NextUpgradeCost:     costs,
		CooldownRemainingMs: (&CooldownError{Remaining: remaining}).RemainingMs(),
	}
}

/* ======================
   Routes
   ====================== */

type routerDeps struct {
	engine  *Engine
	log     *logrus.Logger
	metrics *gameMetrics
	limiter *clientRateLimiter
}

func newRouter(deps routerDeps) *mux.Router {
	r := mux.NewRouter()
	r.Use(requestLogMiddleware(deps.log))
	r.Use(metricsMiddleware(deps.metrics))

	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
	if deps.metrics != nil {
		r.Handle("/metrics", deps.metrics.Handler()).Methods(http.MethodGet)
	}

	api := r.NewRoute().Subrouter()
	if deps.limiter != nil {
		api.Use(deps.limiter.Handler)
	}
	api.HandleFunc("/register", registerHandler(deps.engine)).Methods(http.MethodPost)
	api.HandleFunc("/state", stateHandler(deps.engine)).Methods(http.MethodGet)
	api.HandleFunc("/mine", mineHandler(deps.engine)).Methods(http.MethodPost)
	api.HandleFunc("/purchase", purchaseHandler(deps.engine)).Methods(http.MethodPost)
	api.HandleFunc("/collect", collectHandler(deps.engine)).Methods(http.MethodPost)
	return r
}

/* ======================
   Handlers
   ====================== */

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func registerHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := newPlayerID(engine.Now())
		if _, err := engine.Register(r.Context(), playerID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, RegisterResponse{OK: true, UserID: playerID})
	}
}

func stateHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, ok := requirePlayerID(w, r, "")
		if !ok {
			return
		}
		st, err := engine.SyncState(r.Context(), playerID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, StateResponse{OK: true, State: newStateView(engine, st, engine.Now())})
	}
}

func mineHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, ok := requirePlayerID(w, r, "")
		if !ok {
			return
		}
		now := engine.Now()
		st, err := engine.Mine(r.Context(), playerID, now)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, StateResponse{OK: true, State: newStateView(engine, st, now)})
	}
}

func purchaseHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PurchaseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST"})
			return
		}
		playerID, ok := requirePlayerID(w, r, req.PlayerID)
		if !ok {
			return
		}
		kind, err := ParseUpgradeKind(req.Upgrade)
		if err != nil {
			writeError(w, err)
			return
		}

		now := engine.Now()
		st, err := engine.Purchase(r.Context(), playerID, kind, now)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, StateResponse{OK: true, State: newStateView(engine, st, now)})
	}
}

func collectHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, ok := requirePlayerID(w, r, "")
		if !ok {
			return
		}
		now := engine.Now()
		res, err := engine.Collect(r.Context(), playerID, now)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CollectResponse{
			OK:        true,
			Coins:     res.Coins,
			Collected: res.Collected,
			State:     newStateView(engine, res.State, now),
		})
	}
}

/* ======================
   Helpers
   ====================== */

// newPlayerID returns an id like PLAYER-<base36 millis><random>.
func newPlayerID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return strings.ToUpper("Player-" + strconv.FormatInt(now.UnixMilli(), 36) + random)
}

// requirePlayerID reads playerId (or userId) from the query, falling back to
// fromBody. It writes the error response itself when the id is unusable.
func requirePlayerID(w http.ResponseWriter, r *http.Request, fromBody string) (string, bool) {
	q := r.URL.Query()
	playerID := strings.TrimSpace(q.Get("playerId"))
	if playerID == "" {
		playerID = strings.TrimSpace(q.Get("userId"))
	}
	if playerID == "" {
		playerID = strings.TrimSpace(fromBody)
	}
	if !isValidPlayerID(playerID) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "INVALID_PLAYER_ID"})
		return "", false
	}
	return playerID, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	var cooldown *CooldownError
	switch {
	case errors.As(err, &cooldown):
		ms := cooldown.RemainingMs()
		w.Header().Set("Retry-After", strconv.FormatInt((ms+999)/1000, 10))
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "COOLDOWN_ACTIVE", RetryAfterMs: ms})
	case errors.Is(err, ErrNotEnoughCoins):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "NOT_ENOUGH_COINS"})
	case errors.Is(err, ErrMaxLevelReached):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "MAX_LEVEL_REACHED"})
	case errors.Is(err, ErrUnknownUpgrade):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "INVALID_REQUEST"})
	case errors.Is(err, ErrPlayerNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "PLAYER_NOT_FOUND"})
	case errors.Is(err, ErrStateConflict):
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "BUSY"})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "INTERNAL_ERROR"})
	}
}
