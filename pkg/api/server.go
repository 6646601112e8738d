package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/smashdex/pkg/app/core/asset"
	"github.com/uhyunpark/smashdex/pkg/app/core/custody"
	"github.com/uhyunpark/smashdex/pkg/app/core/fill"
	"github.com/uhyunpark/smashdex/pkg/app/core/order"
	"github.com/uhyunpark/smashdex/pkg/app/core/orderbook"
	"github.com/uhyunpark/smashdex/pkg/app/exchange"
	"github.com/uhyunpark/smashdex/pkg/app/match"
	"github.com/uhyunpark/smashdex/pkg/auth"
	"github.com/uhyunpark/smashdex/pkg/metrics"
	"github.com/uhyunpark/smashdex/pkg/util"
)

const (
	defaultBookDepth = 50
	maxBodyBytes     = 1 << 20
)

// Config controls the optional parts of the API surface
type Config struct {
	// CORSOrigins lists allowed browser origins. Empty means the local dev frontends.
	CORSOrigins []string
	// AdminEnabled exposes asset registration and, with in-memory custody, the dev custody routes.
	AdminEnabled bool
}

type Deps struct {
	Exchange *exchange.Exchange
	Assets   *asset.Registry
	Custody  *custody.Memory // nil unless the in-memory custody is in use
	Metrics  *metrics.Metrics
	Clock    util.Clock
	Logger   *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	cfg     Config
	ex      *exchange.Exchange
	assets  *asset.Registry
	custody *custody.Memory
	metrics *metrics.Metrics
	clock   util.Clock
	log     *zap.SugaredLogger

	router *mux.Router
	hub    *Hub // WebSocket hub
}

// NewServer creates a new API server
func NewServer(cfg Config, d Deps) *Server {
	if d.Clock == nil {
		d.Clock = util.RealClock{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}

	s := &Server{
		cfg:     cfg,
		ex:      d.Exchange,
		assets:  d.Assets,
		custody: d.Custody,
		metrics: d.Metrics,
		clock:   d.Clock,
		log:     d.Logger,
		router:  mux.NewRouter(),
		hub:     NewHub(d.Logger.Named("ws")),
	}
	s.hub.snapshot = s.bookSnapshot

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Order submission
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")

	// Book endpoints
	api.HandleFunc("/books/{symbolIn}/{symbolOut}", s.handleGetBook).Methods("GET")
	api.HandleFunc("/books/{symbolIn}/{symbolOut}/price", s.handleGetPrice).Methods("GET")
	api.HandleFunc("/fills/{address}/{nonce}", s.handleGetFill).Methods("GET")

	// Operator-directed bilateral execution
	api.HandleFunc("/match", s.handleMatch).Methods("POST")

	// Asset registry
	api.HandleFunc("/assets", s.handleGetAssets).Methods("GET")
	if s.cfg.AdminEnabled {
		api.HandleFunc("/assets", s.handleRegisterAsset).Methods("POST")
	}

	// Dev custody
	if s.cfg.AdminEnabled && s.custody != nil {
		api.HandleFunc("/custody/deposit", s.handleDeposit).Methods("POST")
		api.HandleFunc("/custody/approve", s.handleApprove).Methods("POST")
		api.HandleFunc("/custody/{address}", s.handleGetCustody).Methods("GET")
	}

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Hub returns the push hub; subscribe it to the event notifier.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start runs the hub and serves HTTP until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warnw("api_shutdown_failed", "err", err)
		}
	}()

	s.log.Infow("api_server_starting", "addr", addr, "admin", s.cfg.AdminEnabled)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// Order Handlers
// ==============================

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req SubmitOrderRequest
	if !decode(w, r, &req) {
		return
	}

	o, err := req.ToOrder()
	if err != nil {
		respondErr(w, err)
		return
	}

	res, err := s.ex.Submit(r.Context(), o)
	if res == nil {
		respondErr(w, err)
		return
	}

	resp := SubmitOrderResponse{
		Status:     "rested",
		Order:      orderInfo(res.Order),
		Executions: executionInfos(res.Executions),
	}
	switch {
	case res.Order.Status == order.StatusDormant:
		resp.Status = "dormant"
	case len(res.Executions) > 0:
		resp.Status = "matched"
	}
	if err != nil {
		resp.Message = err.Error()
	}
	respondJSON(w, resp)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !decode(w, r, &req) {
		return
	}

	creator, ok := parseAddress(w, req.CreatedBy)
	if !ok {
		return
	}
	key, err := order.ParseKey(creator, req.Nonce)
	if err != nil {
		respondErr(w, err)
		return
	}
	sig, err := order.DecodeSignature(req.Signature)
	if err != nil {
		respondErr(w, err)
		return
	}

	rec, err := s.ex.Cancel(r.Context(), creator, key.NonceInt(), sig)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, orderInfo(rec))
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if !decode(w, r, &req) {
		return
	}

	maker, ok := s.parseKeyRef(w, "maker", req.Maker)
	if !ok {
		return
	}
	taker, ok := s.parseKeyRef(w, "taker", req.Taker)
	if !ok {
		return
	}
	amt, ok := new(big.Int).SetString(req.FillAmtIn, 10)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_request", "fillAmtIn must be a decimal integer")
		return
	}

	exec, err := s.ex.ExecuteDirect(r.Context(), maker, taker, amt)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, executionInfo(exec))
}

func (s *Server) parseKeyRef(w http.ResponseWriter, field string, ref KeyRef) (order.Key, bool) {
	if !common.IsHexAddress(ref.CreatedBy) {
		respondError(w, http.StatusBadRequest, "invalid_request", field+": invalid createdBy")
		return order.Key{}, false
	}
	key, err := order.ParseKey(common.HexToAddress(ref.CreatedBy), ref.Nonce)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", field+": "+err.Error())
		return order.Key{}, false
	}
	return key, true
}

// ==============================
// Account Handlers
// ==============================

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	respondJSON(w, orderInfos(s.ex.OrdersByCreator(addr)))
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	respondJSON(w, orderInfos(s.ex.History(addr)))
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	respondJSON(w, NonceResponse{Address: addr.Hex(), Nonce: s.ex.NextNonce(addr).String()})
}

func (s *Server) handleGetFill(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	addr, ok := parseAddress(w, vars["address"])
	if !ok {
		return
	}
	key, err := order.ParseKey(addr, vars["nonce"])
	if err != nil {
		respondErr(w, err)
		return
	}
	st, err := s.ex.FillState(key)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, fillInfo(st))
}

// ==============================
// Book Handlers
// ==============================

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	depth := defaultBookDepth
	if d := r.URL.Query().Get("depth"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "depth must be a non-negative integer")
			return
		}
		depth = n
	}

	snap, err := s.ex.Book(vars["symbolIn"], vars["symbolOut"], depth)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, bookSnapshot(snap, s.clock.Now().UnixMilli()))
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	p, err := s.ex.Price(vars["symbolIn"], vars["symbolOut"])
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, priceInfo(p))
}

// bookSnapshot feeds book:<pair> pushes.
func (s *Server) bookSnapshot(pair order.Pair) (BookSnapshot, bool) {
	snap, err := s.ex.Book(pair.Base, pair.Quote, defaultBookDepth)
	if err != nil {
		return BookSnapshot{}, false
	}
	return bookSnapshot(snap, s.clock.Now().UnixMilli()), true
}

// ==============================
// Asset and Custody Handlers
// ==============================

func (s *Server) handleGetAssets(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.assets.List())
}

func (s *Server) handleRegisterAsset(w http.ResponseWriter, r *http.Request) {
	var req RegisterAssetRequest
	if !decode(w, r, &req) {
		return
	}
	token, ok := parseAddress(w, req.Token)
	if !ok {
		return
	}
	if err := s.assets.Register(req.Symbol, token); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	s.log.Infow("asset_registered", "symbol", req.Symbol, "token", token.Hex())
	respondJSON(w, asset.Asset{Symbol: req.Symbol, Token: token})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleCustody(w, r, s.custody.Deposit)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.handleCustody(w, r, s.custody.Approve)
}

func (s *Server) handleCustody(w http.ResponseWriter, r *http.Request, apply func(owner, token common.Address, amount *big.Int) error) {
	var req CustodyRequest
	if !decode(w, r, &req) {
		return
	}
	owner, ok := parseAddress(w, req.Address)
	if !ok {
		return
	}
	token, err := s.assets.Resolve(req.Symbol)
	if err != nil {
		respondErr(w, err)
		return
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_request", "amount must be a decimal integer")
		return
	}
	if err := apply(owner, token, amount); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	respondJSON(w, s.holding(owner, req.Symbol, token))
}

func (s *Server) handleGetCustody(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	symbols := make(map[common.Address]string)
	for _, a := range s.assets.List() {
		symbols[a.Token] = a.Symbol
	}
	holdings := s.custody.Holdings(owner)
	out := make([]HoldingInfo, len(holdings))
	for i, h := range holdings {
		out[i] = HoldingInfo{
			Symbol:    symbols[h.Token],
			Token:     h.Token.Hex(),
			Balance:   h.Balance.String(),
			Allowance: h.Allowance.String(),
		}
	}
	respondJSON(w, out)
}

func (s *Server) holding(owner common.Address, symbol string, token common.Address) HoldingInfo {
	return HoldingInfo{
		Symbol:    symbol,
		Token:     token.Hex(),
		Balance:   s.custody.Balance(owner, token).String(),
		Allowance: s.custody.Allowance(owner, token).String(),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{
		"status":    "ok",
		"wsClients": s.hub.Clients(),
	})
}

// ==============================
// Helper Functions
// ==============================

// statusFor maps an exchange error to its HTTP status and a short error code.
func statusFor(err error) (int, string) {
	var (
		authErr    *auth.AuthorizationError
		unknown    *asset.UnknownAssetError
		mismatch   *match.AssetMismatchError
		priceErr   *match.PriceMismatchError
		overfill   *fill.OverfillError
		balanceErr *custody.InsufficientBalanceError
		allowErr   *custody.InsufficientAuthorizationError
		cycleErr   *match.CycleExecutionError
	)
	switch {
	case errors.Is(err, exchange.ErrHalted):
		return http.StatusServiceUnavailable, "halted"
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, "unauthorized"
	case errors.As(err, &overfill):
		return http.StatusConflict, "overfill"
	case errors.Is(err, orderbook.ErrDuplicateOrder):
		return http.StatusConflict, "duplicate_order"
	case errors.As(err, &balanceErr):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.As(err, &allowErr):
		return http.StatusUnprocessableEntity, "insufficient_authorization"
	case errors.As(err, &cycleErr):
		return http.StatusUnprocessableEntity, "cycle_execution_failed"
	case errors.Is(err, match.ErrOrderNotFound):
		return http.StatusNotFound, "not_found"
	case errors.As(err, &unknown):
		return http.StatusBadRequest, "unknown_asset"
	case errors.As(err, &mismatch):
		return http.StatusBadRequest, "asset_mismatch"
	case errors.As(err, &priceErr):
		return http.StatusBadRequest, "price_mismatch"
	case errors.Is(err, match.ErrZeroFill), errors.Is(err, fill.ErrInvalidAmount), errors.Is(err, order.ErrInvalidOrder):
		return http.StatusBadRequest, "invalid_request"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func respondErr(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	respondError(w, status, code, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid request body: "+err.Error())
		return false
	}
	return true
}

func parseAddress(w http.ResponseWriter, s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid address "+strconv.Quote(s))
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
