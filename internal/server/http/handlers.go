package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/and161185/score-store/internal/errs"
	"github.com/and161185/score-store/internal/metrics"
	"github.com/and161185/score-store/internal/service"
)

const maxBodyBytes = 1 << 20

type credentialsRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

type signupResponse struct {
	LoginToken  *string `json:"loginToken"`
	ConfirmText *string `json:"confirmText"`
}

type verifyRequest struct {
	Username *string `json:"username"`
}

type verifyResponse struct {
	Success     bool    `json:"success"`
	ConfirmText *string `json:"confirmText"`
}

type loginResponse struct {
	Success    bool    `json:"success"`
	LoginToken *string `json:"loginToken"`
}

type scoreResponse struct {
	Score         *int64 `json:"score"`
	MaxDailyScore *int64 `json:"maxDailyScore"`
}

type checkoutResponse struct {
	Success bool   `json:"success"`
	ErrCode *int   `json:"errCode"`
	Score   *int64 `json:"score,omitempty"`
}

type addGoodRequest struct {
	Username    *string `json:"username"`
	LoginToken  *string `json:"loginToken"`
	Name        *string `json:"name"`
	Price       *int64  `json:"price"`
	Description *string `json:"description"`
}

type addGoodResponse struct {
	Success bool   `json:"success"`
	ErrCode *int   `json:"errCode"`
	ID      *int64 `json:"id,omitempty"`
}

type goodView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Price       int64  `json:"price"`
	Description string `json:"description"`
}

type messageRequest struct {
	Identity *string `json:"identity"`
	WxID     *string `json:"wxid"`
	Message  *string `json:"message"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.d.Log.Error(op, zap.Error(err), zap.String("request_id", middleware.GetReqID(r.Context())))
	w.WriteHeader(http.StatusInternalServerError)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil || req.Username == nil || req.Password == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	res, err := s.d.Registration.Signup(r.Context(), *req.Username, *req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, signupResponse{LoginToken: &res.LoginToken, ConfirmText: &res.ConfirmText})
	case errors.Is(err, errs.ErrAlreadyExists):
		writeJSON(w, http.StatusOK, signupResponse{})
	case errors.Is(err, errs.ErrInvalidInput):
		w.WriteHeader(http.StatusBadRequest)
	default:
		s.internalError(w, r, "signup", err)
	}
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeBody(w, r, &req); err != nil || req.Username == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	res, err := s.d.Registration.PollVerify(r.Context(), *req.Username)
	switch {
	case err == nil && res.Confirmed:
		writeJSON(w, http.StatusOK, verifyResponse{Success: true})
	case err == nil:
		writeJSON(w, http.StatusOK, verifyResponse{ConfirmText: &res.Code})
	case errors.Is(err, errs.ErrNotFound):
		writeJSON(w, http.StatusOK, verifyResponse{})
	default:
		s.internalError(w, r, "verify", err)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil || req.Username == nil || req.Password == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	cred, err := s.d.Auth.LoginWithIP(r.Context(), *req.Username, *req.Password, clientIP(r))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, loginResponse{Success: true, LoginToken: &cred.Token})
	case errors.Is(err, errs.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, loginResponse{})
	case errors.Is(err, errs.ErrUnauthorized):
		writeJSON(w, http.StatusOK, loginResponse{})
	default:
		s.internalError(w, r, "login", err)
	}
}

// handleScoreInfo reports a null score for unknown users and an unbounded (null) daily cap.
func (s *Server) handleScoreInfo(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if _, ok := q["username"]; !ok || len(q["username"]) != 1 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	bal, known, err := s.d.Ledger.BalanceOfUser(r.Context(), q.Get("username"))
	if err != nil {
		s.internalError(w, r, "get score", err)
		return
	}
	var resp scoreResponse
	if known {
		resp.Score = &bal
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGoods(w http.ResponseWriter, r *http.Request) {
	goods, err := s.d.Goods.List(r.Context())
	if err != nil {
		s.internalError(w, r, "list goods", err)
		return
	}
	out := make([]goodView, 0, len(goods))
	for _, g := range goods {
		out = append(out, goodView{ID: g.ID, Name: g.Name, Price: g.Price, Description: g.Description})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAddGood(w http.ResponseWriter, r *http.Request) {
	var req addGoodRequest
	if err := decodeBody(w, r, &req); err != nil ||
		req.Username == nil || req.LoginToken == nil || req.Name == nil || req.Price == nil {
		writeJSON(w, http.StatusOK, addGoodResponse{ErrCode: codePtr(CodeMalformed)})
		return
	}
	var desc string
	if req.Description != nil {
		desc = *req.Description
	}
	g, err := s.d.Goods.Add(r.Context(), *req.Username, *req.LoginToken, *req.Name, *req.Price, desc)
	if err != nil {
		code := ErrCode(err)
		if code == CodeLedgerUnavailable {
			s.d.Log.Error("add good", zap.Error(err), zap.String("request_id", middleware.GetReqID(r.Context())))
		}
		writeJSON(w, http.StatusOK, addGoodResponse{ErrCode: &code})
		return
	}
	writeJSON(w, http.StatusOK, addGoodResponse{Success: true, ID: &g.ID})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username   *string         `json:"username"`
		LoginToken *string         `json:"loginToken"`
		Goods      json.RawMessage `json:"goods"`
	}
	if err := decodeBody(w, r, &req); err != nil || req.Username == nil || req.LoginToken == nil {
		writeJSON(w, http.StatusOK, checkoutResponse{ErrCode: codePtr(CodeMalformed)})
		return
	}
	cart, err := decodeCart(req.Goods)
	if err != nil {
		writeJSON(w, http.StatusOK, checkoutResponse{ErrCode: codePtr(CodeMalformed)})
		return
	}

	res, err := s.d.Checkout.Checkout(r.Context(), *req.Username, *req.LoginToken, cart)
	if err != nil {
		code := ErrCode(err)
		if code == CodeLedgerUnavailable {
			s.d.Log.Error("checkout", zap.Error(err), zap.String("request_id", middleware.GetReqID(r.Context())))
		}
		writeJSON(w, http.StatusOK, checkoutResponse{ErrCode: &code})
		return
	}
	s.d.Log.Info("checkout",
		zap.String("order", res.OrderID.String()),
		zap.Int64("total", res.Total),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	)
	writeJSON(w, http.StatusOK, checkoutResponse{Success: true, Score: &res.Balance})
}

// decodeCart accepts only a JSON array of objects with exactly the integer keys id and count.
func decodeCart(raw json.RawMessage) ([]service.CartLine, error) {
	var items []map[string]json.RawMessage
	if len(raw) == 0 || raw[0] != '[' {
		return nil, errors.New("goods must be an array")
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	cart := make([]service.CartLine, 0, len(items))
	for i, it := range items {
		idRaw, okID := it["id"]
		countRaw, okCount := it["count"]
		if len(it) != 2 || !okID || !okCount {
			return nil, fmt.Errorf("goods[%d]: want exactly id and count", i)
		}
		id, err := decodeInt(idRaw)
		if err != nil {
			return nil, fmt.Errorf("goods[%d].id: %w", i, err)
		}
		count, err := decodeInt(countRaw)
		if err != nil {
			return nil, fmt.Errorf("goods[%d].count: %w", i, err)
		}
		cart = append(cart, service.CartLine{GoodID: id, Count: count})
	}
	return cart, nil
}

// decodeInt decodes a JSON integer. Unmarshal leaves the target untouched on null, so null is rejected here.
func decodeInt(raw json.RawMessage) (int64, error) {
	var v *int64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, err
	}
	if v == nil {
		return 0, errors.New("null is not an integer")
	}
	return *v, nil
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(w, r, &req); err != nil || req.Message == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	identity := req.Identity
	if identity == nil {
		identity = req.WxID
	}
	if identity == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.d.Feed.Push(*identity, *req.Message)
	metrics.FeedMessages.Set(float64(s.d.Feed.Len()))
	w.WriteHeader(http.StatusOK)
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func codePtr(c int) *int { return &c }
