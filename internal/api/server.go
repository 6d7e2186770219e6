package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"TicketChain/internal/booking"
	xerrors "TicketChain/internal/errors"
	"TicketChain/internal/intent"
	"TicketChain/internal/inventory"
	"TicketChain/internal/observability/metrics"
	"TicketChain/internal/payment"
	"TicketChain/internal/ticket"
	"TicketChain/internal/wallet"
)

// Server 暴露预订与结算的 REST 接口。
type Server struct {
	addr    string
	service *booking.Service
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, service *booking.Service) *Server {
	return &Server{addr: addr, service: service}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler 返回带路由与指标中间件的处理器。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/events", s.handleListEvents)
	mux.HandleFunc("GET /api/v1/venues", s.handleListVenues)
	mux.HandleFunc("POST /api/v1/reservations", s.handleReserve)
	mux.HandleFunc("GET /api/v1/intents/pending", s.handlePendingIntent)
	mux.HandleFunc("GET /api/v1/intents/{id}", s.handlePaymentStatus)
	mux.HandleFunc("POST /api/v1/intents/{id}/confirm", s.handleConfirm)
	mux.HandleFunc("GET /api/v1/tickets", s.handleListTickets)
	mux.HandleFunc("GET /api/v1/wallet/balance", s.handleWalletBalance)
	mux.HandleFunc("POST /api/v1/wallet/disbursements", s.handleDisburse)

	// /metrics 暴露采集结果，自身不计入请求指标。
	root := http.NewServeMux()
	root.Handle("GET /metrics", metrics.Handler())
	root.Handle("/", metrics.Middleware(mux))
	return root
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	events := s.service.Events(query.Get("category"), query.Get("city"))
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListVenues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Venues(r.URL.Query().Get("city")))
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req booking.ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	res, err := s.service.ReserveTickets(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.CheckPaymentStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePendingIntent(w http.ResponseWriter, r *http.Request) {
	in, err := s.service.PendingIntent(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

type confirmRequest struct {
	TxHash string `json:"tx_hash"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	outcome, err := s.service.ConfirmTransaction(r.Context(), r.PathValue("id"), req.TxHash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	status := ticket.Status(query.Get("status"))
	if status != "" && !ticket.IsValidStatus(status) {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "不支持的票据状态"))
		return
	}
	limit := 20
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	tickets, err := s.service.Tickets(r.Context(), status, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (s *Server) handleWalletBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.service.Balance(r.Context(), r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

type disburseRequest struct {
	To        string  `json:"to"`
	AmountUSD float64 `json:"amount_usd"`
	Memo      string  `json:"memo,omitempty"`
}

func (s *Server) handleDisburse(w http.ResponseWriter, r *http.Request) {
	var req disburseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "请求体解析失败"))
		return
	}
	out, err := s.service.SendDisbursement(r.Context(), req.To, req.AmountUSD, req.Memo)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	writeJSON(w, httpStatus(code), errorResponse{Code: string(code), Message: err.Error()})
}

// httpStatus 把内部错误码映射为 HTTP 状态码。
func httpStatus(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, wallet.CodeInvalidAddress:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, intent.CodeIntentNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict, intent.CodeIntentConflict, inventory.CodeInsufficientInventory, wallet.CodeInsufficientBalance:
		return http.StatusConflict
	case intent.CodeIntentExpired:
		return http.StatusGone
	case payment.CodePaymentNotObserved:
		return http.StatusPaymentRequired
	case xerrors.CodeGatewayUnavailable, xerrors.CodeTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
