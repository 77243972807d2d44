package httpd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"marketplace_ledger/internal/access"
	"marketplace_ledger/internal/domain"
	"marketplace_ledger/internal/repository"
	"marketplace_ledger/internal/usecase"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type Usecases struct {
	Ledger     *usecase.LedgerUsecase
	Settlement *usecase.SettlementUsecase
	Payouts    *usecase.PayoutUsecase
	Reversals  *usecase.ReversalUsecase
	Tax        *usecase.TaxUsecase
	Reports    *usecase.ReportingUsecase
}

type Handler struct {
	store    *repository.Store
	uc       Usecases
	validate *validator.Validate
}

func NewHandler(store *repository.Store, uc Usecases) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		store:    store,
		uc:       uc,
		validate: v,
	}
}

type RouteConfig struct {
	Sig         SigConfig
	JWT         JWTConfig
	PayoutRPS   float64
	PayoutBurst int
	CORSOrigins []string
}

func (h *Handler) Routes(cfg RouteConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", "X-Timestamp", "X-Signature", "X-Client-Id"},
		ExposedHeaders:   []string{"X-Idempotency-Hit", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	idem := Idempotency(h.store)
	payoutLimit := NewRateLimiter(cfg.PayoutRPS, cfg.PayoutBurst)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/healthz", h.Healthz)

		// collaborator handoffs
		r.Group(func(r chi.Router) {
			r.Use(SignatureMiddleware(cfg.Sig))
			r.Post("/orders", h.SettleOrder)
			r.Post("/returns/refunds", h.RecordRefund)
			r.Put("/sellers/{sellerId}/verification", h.UpdateVerification)
		})

		r.Group(func(r chi.Router) {
			r.Use(ActorMiddleware(cfg.JWT))

			r.Get("/sellers/{sellerId}/financials", h.GetFinancials)
			r.Get("/sellers/{sellerId}/payouts", h.ListPayouts)
			r.With(payoutLimit.Middleware, idem).Post("/sellers/{sellerId}/payouts", h.RequestPayout)
			r.Get("/payouts/{id}", h.GetPayout)

			r.Get("/transactions", h.ListTransactions)
			r.With(idem).Post("/transactions", h.CreateTransaction)
			r.Get("/transactions/{id}", h.GetTransaction)
			r.With(idem).Post("/transactions/{id}/reversal", h.ReverseTransaction)

			r.Get("/tax/rates", h.GetTaxRates)
			r.Put("/tax/rates", h.SetTaxRates)
			r.Post("/tax/quote", h.TaxQuote)

			r.Get("/reports/summary", h.Summary)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

type apiErr struct {
	Status int
	Msg    string
}

func (e *apiErr) Error() string { return e.Msg }

var errBadJSON = &apiErr{Status: http.StatusBadRequest, Msg: "invalid json"}

// writeError maps the domain error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ae *apiErr
		ve *domain.ValidationError
	)
	switch {
	case errors.As(err, &ae):
		writeJSON(w, ae.Status, errorResp{Error: ae.Msg})
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "validation failed", Fields: ve.Fields})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, domain.ErrInsufficientBalance):
		writeJSON(w, http.StatusUnprocessableEntity, errorResp{Error: err.Error()})
	case errors.Is(err, domain.ErrAlreadyReversed):
		writeJSON(w, http.StatusConflict, errorResp{Error: err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResp{Error: err.Error()})
	case errors.Is(err, domain.ErrConcurrencyConflict), errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResp{Error: err.Error()})
	default:
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "internal error"})
	}
}

// decode reads a JSON body into dst and runs its validate tags.
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errBadJSON
	}
	if err := h.validate.Struct(dst); err != nil {
		var fields validator.ValidationErrors
		if !errors.As(err, &fields) {
			return err
		}
		v := &domain.ValidationError{}
		for _, fe := range fields {
			reason := fe.Tag()
			if fe.Param() != "" {
				reason += "=" + fe.Param()
			}
			v.Add(fieldPath(fe.Namespace()), reason)
		}
		return v
	}
	return nil
}

// fieldPath drops the struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// authorize resolves the actor and checks action. A non-empty sellerID also
// scopes seller actors to their own records.
func authorize(r *http.Request, action access.Action, sellerID string) (access.Actor, error) {
	actor, ok := actorFrom(r.Context())
	if !ok {
		return access.Actor{}, &apiErr{Status: http.StatusUnauthorized, Msg: "unauthenticated"}
	}
	if !access.CanPerform(actor, action) {
		return actor, domain.ErrForbidden
	}
	if sellerID != "" && !access.CanAccessSeller(actor, sellerID) {
		return actor, domain.ErrForbidden
	}
	return actor, nil
}

// amounts parses decimal strings field by field, collecting every failure.
type amounts struct {
	v domain.ValidationError
}

func (a *amounts) required(field, s string) decimal.Decimal {
	d, err := domain.ParseAmount(field, s)
	if err != nil {
		a.v.Merge(err)
	}
	return d
}

func (a *amounts) optional(field, s string) decimal.Decimal {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero
	}
	return a.required(field, s)
}

func (a *amounts) currency(s string) domain.Currency {
	c, err := domain.ParseCurrency(s)
	if err != nil {
		a.v.Merge(err)
	}
	return c
}

func (a *amounts) err() error {
	return a.v.Err()
}

func pagination(r *http.Request) (limit, offset int) {
	q := r.URL.Query()
	limit = 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func timeParam(r *http.Request, name string) (*time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, domain.NewValidationError(name, "must be an RFC 3339 timestamp")
	}
	return &t, nil
}

// POST /api/v1/orders
func (h *Handler) SettleOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := authorize(r, access.ActionSettleOrder, "")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req SettleOrderReq
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var a amounts
	s := domain.Settlement{
		OrderID:        req.OrderID,
		Currency:       a.currency(req.Currency),
		Subtotal:       a.required("subtotal", req.Subtotal),
		ShippingCost:   a.optional("shippingCost", req.ShippingCost),
		Taxes:          a.optional("taxes", req.Taxes),
		DiscountAmount: a.optional("discountAmount", req.DiscountAmount),
		Total:          a.required("total", req.Total),
		SellerPayout:   a.required("sellerPayout", req.SellerPayout),
		PlatformFee:    a.required("platformFee", req.PlatformFee),
	}
	for _, it := range req.Items {
		s.Items = append(s.Items, domain.OrderItem{SellerID: it.SellerID, ProductID: it.ProductID, Quantity: it.Quantity})
	}
	if err := a.err(); err != nil {
		writeError(w, r, err)
		return
	}

	order, sale, err := h.uc.Settlement.Settle(r.Context(), s, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, SettleOrderResp{
		OrderID:      order.ID,
		SellerID:     order.SellerID,
		Currency:     order.Currency.String(),
		Total:        order.Currency.Format(order.Total),
		SellerPayout: order.Currency.Format(order.SellerPayout),
		PlatformFee: PlatformFeeResp{
			Amount: order.Currency.Format(order.PlatformFee.Amount),
			Base:   domain.BaseCurrency.Format(order.PlatformFee.Base),
		},
		SaleTransaction: toTxItem(*sale),
	})
}

// POST /api/v1/returns/refunds
func (h *Handler) RecordRefund(w http.ResponseWriter, r *http.Request) {
	actor, err := authorize(r, access.ActionRecordRefund, "")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req RecordRefundReq
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var a amounts
	refund := domain.RefundRequest{
		ReturnID:     req.ReturnID,
		OrderID:      req.OrderID,
		RefundAmount: a.required("refundAmount", req.RefundAmount),
		Currency:     a.currency(req.Currency),
	}
	if err := a.err(); err != nil {
		writeError(w, r, err)
		return
	}

	tr, err := h.uc.Settlement.RecordRefund(r.Context(), refund, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTxItem(*tr))
}

// PUT /api/v1/sellers/{sellerId}/verification
func (h *Handler) UpdateVerification(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, access.ActionVerifySeller, ""); err != nil {
		writeError(w, r, err)
		return
	}

	var req VerificationReq
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	s, err := h.uc.Ledger.UpdateVerification(r.Context(), chi.URLParam(r, "sellerId"), domain.KYCStatus(req.KYCStatus), *req.PayoutsEnabled)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFinancialsResp(s))
}

// GET /api/v1/sellers/{sellerId}/financials
func (h *Handler) GetFinancials(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "sellerId")
	if _, err := authorize(r, access.ActionReadFinancials, sellerID); err != nil {
		writeError(w, r, err)
		return
	}

	s, err := h.uc.Ledger.GetFinancials(r.Context(), sellerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFinancialsResp(s))
}

// POST /api/v1/sellers/{sellerId}/payouts
func (h *Handler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "sellerId")
	actor, err := authorize(r, access.ActionRequestPayout, sellerID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req PayoutReq
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	cur, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.uc.Payouts.Request(r.Context(), sellerID, cur, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayoutItem(*p))
}

// GET /api/v1/sellers/{sellerId}/payouts?limit=&offset=
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	sellerID := chi.URLParam(r, "sellerId")
	if _, err := authorize(r, access.ActionReadPayouts, sellerID); err != nil {
		writeError(w, r, err)
		return
	}

	limit, offset := pagination(r)
	items, err := h.uc.Payouts.List(r.Context(), sellerID, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]PayoutItem, 0, len(items))
	for _, p := range items {
		out = append(out, toPayoutItem(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/payouts/{id}
func (h *Handler) GetPayout(w http.ResponseWriter, r *http.Request) {
	actor, err := authorize(r, access.ActionReadPayouts, "")
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := h.uc.Payouts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !access.CanAccessSeller(actor, p.SellerID) {
		writeError(w, r, domain.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, toPayoutItem(*p))
}

// GET /api/v1/transactions?sellerId=&type=&currency=&from=&to=&limit=&offset=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.TxFilter{
		SellerID: q.Get("sellerId"),
		Type:     domain.TxType(q.Get("type")),
	}

	actor, err := authorize(r, access.ActionReadTransactions, "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if actor.Role == access.RoleSeller {
		if filter.SellerID != "" && filter.SellerID != actor.SellerID {
			writeError(w, r, domain.ErrForbidden)
			return
		}
		filter.SellerID = actor.SellerID
	}

	if c := q.Get("currency"); c != "" {
		cur, err := domain.ParseCurrency(c)
		if err != nil {
			writeError(w, r, err)
			return
		}
		filter.Currency = cur
	}
	if filter.From, err = timeParam(r, "from"); err != nil {
		writeError(w, r, err)
		return
	}
	if filter.To, err = timeParam(r, "to"); err != nil {
		writeError(w, r, err)
		return
	}

	limit, offset := pagination(r)
	items, total, err := h.uc.Ledger.ListTransactions(r.Context(), filter, limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]TxItem, 0, len(items))
	for _, t := range items {
		out = append(out, toTxItem(t))
	}
	writeJSON(w, http.StatusOK, TxListResp{Items: out, Total: total, Limit: limit, Offset: offset})
}

// GET /api/v1/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	actor, err := authorize(r, access.ActionReadTransactions, "")
	if err != nil {
		writeError(w, r, err)
		return
	}

	t, err := h.uc.Ledger.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !access.CanAccessSeller(actor, t.SellerID) {
		writeError(w, r, domain.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, toTxItem(*t))
}

// POST /api/v1/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	actor, err := authorize(r, access.ActionCreateTransaction, "")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req ManualTxReq
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	t, err := h.uc.Ledger.CreateManual(r.Context(), usecase.ManualEntry{
		SellerID:    req.SellerID,
		Type:        domain.TxType(req.Type),
		Amount:      req.Amount,
		Currency:    req.Currency,
		ReferenceID: req.ReferenceID,
		Description: req.Description,
	}, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTxItem(*t))
}

// POST /api/v1/transactions/{id}/reversal
func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	actor, err := authorize(r, access.ActionReverseTransaction, "")
	if err != nil {
		writeError(w, r, err)
		return
	}

	t, err := h.uc.Reversals.Reverse(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTxItem(*t))
}

// GET /api/v1/tax/rates
func (h *Handler) GetTaxRates(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, access.ActionReadTaxRates, ""); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaxRatesResp(h.uc.Tax.Rules()))
}

// PUT /api/v1/tax/rates
func (h *Handler) SetTaxRates(w http.ResponseWriter, r *http.Request) {
	actor, err := authorize(r, access.ActionWriteTaxRates, "")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req TaxRatesReq
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var a amounts
	rates := make(map[string]decimal.Decimal, len(req.Rates))
	for code, v := range req.Rates {
		rates[code] = a.required("rates."+code, v)
	}
	var def *decimal.Decimal
	if req.DefaultRate != nil {
		d := a.required("defaultRate", *req.DefaultRate)
		def = &d
	}
	if err := a.err(); err != nil {
		writeError(w, r, err)
		return
	}

	set, err := h.uc.Tax.SetRates(r.Context(), rates, def, actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaxRatesResp(set))
}

// POST /api/v1/tax/quote
func (h *Handler) TaxQuote(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, access.ActionReadTaxRates, ""); err != nil {
		writeError(w, r, err)
		return
	}

	var req TaxQuoteReq
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var a amounts
	cur := a.currency(req.Currency)
	subtotal := a.required("subtotal", req.Subtotal)
	shipping := a.optional("shipping", req.Shipping)
	discount := a.optional("discount", req.Discount)
	if err := a.err(); err != nil {
		writeError(w, r, err)
		return
	}

	q, err := h.uc.Tax.Quote(req.Country, cur, subtotal, shipping, discount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TaxQuoteResp{
		Country:  q.Country,
		Currency: q.Currency.String(),
		Rate:     q.Rate.String(),
		Subtotal: cur.Format(q.Subtotal),
		Shipping: cur.Format(q.Shipping),
		Discount: cur.Format(q.Discount),
		Taxes:    cur.Format(q.Taxes),
		Total:    cur.Format(q.Total),
	})
}

// GET /api/v1/reports/summary?from=&to=&sellerId=
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	if _, err := authorize(r, access.ActionReadReports, ""); err != nil {
		writeError(w, r, err)
		return
	}

	var (
		f   = domain.ReportFilter{SellerID: r.URL.Query().Get("sellerId")}
		err error
	)
	if f.From, err = timeParam(r, "from"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.To, err = timeParam(r, "to"); err != nil {
		writeError(w, r, err)
		return
	}

	s, err := h.uc.Reports.Summary(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryResp(s))
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "db unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
