package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/chainstate/internal/domain"
	"github.com/mtlprog/chainstate/internal/ledger"
	"github.com/mtlprog/chainstate/internal/maintenance"
	"github.com/mtlprog/chainstate/internal/settlement"
	"github.com/mtlprog/chainstate/internal/snapshot"
)

// FeedPublisher records price feeds.
type FeedPublisher interface {
	Publish(w ledger.Writer, asset domain.AssetID, publisher domain.AccountID, feed domain.PriceFeed, now time.Time) error
}

// Settler runs global and force settlements.
type Settler interface {
	GlobalSettle(w ledger.Writer, asset domain.AssetID, price domain.Price) (domain.BitassetData, error)
	ForceSettle(w ledger.Writer, asset domain.AssetID, amount int64, now time.Time) (settlement.Result, error)
}

// PassRunner runs a maintenance pass on demand.
type PassRunner interface {
	RunOnce(ctx context.Context) (maintenance.Pass, error)
}

// SnapshotLister reads persisted state snapshots.
type SnapshotLister interface {
	GetLatest(ctx context.Context) (*snapshot.Snapshot, error)
	List(ctx context.Context, limit int) ([]snapshot.Snapshot, error)
}

// ExternalData records collateral and balances reported by other ledgers.
type ExternalData interface {
	SetCollateral(ctx context.Context, asset domain.AssetID, total int64) error
	SetBalance(ctx context.Context, account domain.AccountID, asset domain.AssetID, amount int64) error
}

// DividendEditor changes dividend options and distribution account balances.
type DividendEditor interface {
	UpdateOptions(w ledger.Writer, asset domain.AssetID, opts domain.DividendOptions) (domain.DividendData, error)
	RecordSnapshot(w ledger.Writer, holder, payout domain.AssetID, observed int64) (int64, error)
}

// Handler provides HTTP endpoints over the asset state.
type Handler struct {
	state       *ledger.State
	feeds       FeedPublisher
	settler     Settler
	maintenance PassRunner
	snapshots   SnapshotLister
	external    ExternalData
	dividends   DividendEditor
	now         func() time.Time
}

// NewHandler creates a new API handler. maintenance and snapshots may be nil.
func NewHandler(state *ledger.State, feeds FeedPublisher, settler Settler, maintenance PassRunner, snapshots SnapshotLister) *Handler {
	return &Handler{
		state:       state,
		feeds:       feeds,
		settler:     settler,
		maintenance: maintenance,
		snapshots:   snapshots,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type assetSummary struct {
	ID            domain.AssetID   `json:"id"`
	Symbol        string           `json:"symbol"`
	Precision     uint8            `json:"precision"`
	Issuer        domain.AccountID `json:"issuer"`
	MarketIssued  bool             `json:"market_issued"`
	PaysDividends bool             `json:"pays_dividends"`
	CurrentSupply string           `json:"current_supply"`
	MaxSupply     string           `json:"max_supply"`
}

type assetDetail struct {
	assetSummary
	Record domain.AssetRecord `json:"record"`
}

type dynamicResponse struct {
	ID                 domain.DynamicDataID `json:"id"`
	CurrentSupply      string               `json:"current_supply"`
	ConfidentialSupply string               `json:"confidential_supply"`
	AccumulatedFees    string               `json:"accumulated_fees"`
	FeePool            string               `json:"fee_pool"`
}

type budgetResponse struct {
	Limit     string `json:"limit"`
	Used      string `json:"used"`
	Remaining string `json:"remaining"`
}

func summarize(view *ledger.State, a domain.AssetRecord) assetSummary {
	s := assetSummary{
		ID:            a.ID,
		Symbol:        a.Symbol,
		Precision:     a.Precision,
		Issuer:        a.Issuer,
		MarketIssued:  a.IsMarketIssued(),
		PaysDividends: a.PaysDividends(),
		MaxSupply:     a.AmountToString(a.Options.MaxSupply),
	}
	if dyn, err := view.DynamicData(a.ID); err == nil {
		s.CurrentSupply = a.AmountToString(dyn.CurrentSupply)
	} else {
		slog.Warn("asset without dynamic data", "asset", a.ID, "error", err)
	}
	return s
}

func summarizeAll(view *ledger.State, assets []domain.AssetRecord) []assetSummary {
	return lo.Map(assets, func(a domain.AssetRecord, _ int) assetSummary { return summarize(view, a) })
}

// resolveAsset accepts either an object id like 1.3.5 or a symbol.
func resolveAsset(view *ledger.State, ref string) (domain.AssetRecord, error) {
	if ref != "" && strings.Contains(ref, ".") && ref[0] >= '0' && ref[0] <= '9' {
		var id domain.AssetID
		if err := id.UnmarshalText([]byte(ref)); err != nil {
			return domain.AssetRecord{}, err
		}
		return view.Asset(id)
	}
	return view.AssetBySymbol(ref)
}

// assetFromPath resolves the {asset} path value, writing the error response
// when that fails.
func (h *Handler) assetFromPath(w http.ResponseWriter, r *http.Request, view *ledger.State) (domain.AssetRecord, bool) {
	a, err := resolveAsset(view, r.PathValue("asset"))
	if err != nil {
		if ledger.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "asset not found")
			return domain.AssetRecord{}, false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.AssetRecord{}, false
	}
	return a, true
}

// ListAssets handles GET /api/v1/assets.
func (h *Handler) ListAssets(w http.ResponseWriter, r *http.Request) {
	view := h.state.Snapshot()
	assets := view.Assets()
	if r.URL.Query().Get("market_issued") == "true" {
		assets = view.Bitassets()
	}
	writeJSON(w, http.StatusOK, summarizeAll(view, assets))
}

// GetAsset handles GET /api/v1/assets/{asset}.
func (h *Handler) GetAsset(w http.ResponseWriter, r *http.Request) {
	view := h.state.Snapshot()
	a, ok := h.assetFromPath(w, r, view)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, assetDetail{assetSummary: summarize(view, a), Record: a})
}

// ListIssuerAssets handles GET /api/v1/issuers/{account}/assets.
func (h *Handler) ListIssuerAssets(w http.ResponseWriter, r *http.Request) {
	var issuer domain.AccountID
	if err := issuer.UnmarshalText([]byte(r.PathValue("account"))); err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id, expected 1.2.N")
		return
	}
	view := h.state.Snapshot()
	writeJSON(w, http.StatusOK, summarizeAll(view, view.AssetsByIssuer(issuer)))
}

// GetDynamicData handles GET /api/v1/assets/{asset}/dynamic.
func (h *Handler) GetDynamicData(w http.ResponseWriter, r *http.Request) {
	view := h.state.Snapshot()
	a, ok := h.assetFromPath(w, r, view)
	if !ok {
		return
	}
	dyn, err := view.DynamicData(a.ID)
	if err != nil {
		h.writeDomainError(w, "failed to get dynamic data", err)
		return
	}
	writeJSON(w, http.StatusOK, dynamicResponse{
		ID:                 dyn.ID,
		CurrentSupply:      a.AmountToString(dyn.CurrentSupply),
		ConfidentialSupply: a.AmountToString(dyn.ConfidentialSupply),
		AccumulatedFees:    a.AmountToString(dyn.AccumulatedFees),
		FeePool:            domain.AmountToString(dyn.FeePool, h.corePrecision(view)),
	})
}

// GetBitasset handles GET /api/v1/assets/{asset}/bitasset.
func (h *Handler) GetBitasset(w http.ResponseWriter, r *http.Request) {
	view := h.state.Snapshot()
	a, ok := h.assetFromPath(w, r, view)
	if !ok {
		return
	}
	b, err := view.BitassetData(a.ID)
	if err != nil {
		h.writeDomainError(w, "failed to get bitasset data", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GetSettlementBudget handles GET /api/v1/assets/{asset}/settlement-budget.
func (h *Handler) GetSettlementBudget(w http.ResponseWriter, r *http.Request) {
	view := h.state.Snapshot()
	a, ok := h.assetFromPath(w, r, view)
	if !ok {
		return
	}
	budget, err := settlement.Remaining(view, a.ID)
	if err != nil {
		h.writeDomainError(w, "failed to compute settlement budget", err)
		return
	}
	writeJSON(w, http.StatusOK, budgetResponse{
		Limit:     a.AmountToString(budget.Limit),
		Used:      a.AmountToString(budget.Used),
		Remaining: a.AmountToString(budget.Remaining),
	})
}

// GetDividendData handles GET /api/v1/assets/{asset}/dividend.
func (h *Handler) GetDividendData(w http.ResponseWriter, r *http.Request) {
	view := h.state.Snapshot()
	a, ok := h.assetFromPath(w, r, view)
	if !ok {
		return
	}
	d, err := view.DividendData(a.ID)
	if err != nil {
		h.writeDomainError(w, "failed to get dividend data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dividend": d,
		"balances": view.DividendBalances(a.ID),
	})
}

type createAssetRequest struct {
	Symbol              string                  `json:"symbol"`
	Precision           uint8                   `json:"precision"`
	Issuer              domain.AccountID        `json:"issuer"`
	MaxSupply           string                  `json:"max_supply,omitempty"`
	Options             *domain.AssetOptions    `json:"options,omitempty"`
	Bitasset            *domain.BitassetOptions `json:"bitasset,omitempty"`
	IsPredictionMarket  bool                    `json:"is_prediction_market,omitempty"`
	Dividend            *domain.DividendOptions `json:"dividend,omitempty"`
	DistributionAccount domain.AccountID        `json:"distribution_account,omitempty"`
}

// CreateAsset handles POST /api/v1/assets.
func (h *Handler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	var req createAssetRequest
	if !decodeBody(w, r, &req) {
		return
	}

	opts := domain.DefaultAssetOptions()
	if req.Options != nil {
		opts = *req.Options
	}
	if req.MaxSupply != "" {
		v, err := domain.AmountFromString(req.MaxSupply, req.Precision)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.MaxSupply = v
	}

	var created domain.AssetRecord
	err := h.state.Update(func(tx *ledger.Tx) error {
		var err error
		created, err = tx.CreateAsset(ledger.NewAsset{
			Symbol:              req.Symbol,
			Precision:           req.Precision,
			Issuer:              req.Issuer,
			Options:             opts,
			Bitasset:            req.Bitasset,
			IsPredictionMarket:  req.IsPredictionMarket,
			Dividend:            req.Dividend,
			DistributionAccount: req.DistributionAccount,
		})
		return err
	})
	if err != nil {
		h.writeDomainError(w, "failed to create asset", err)
		return
	}
	slog.Info("asset created", "id", created.ID, "symbol", created.Symbol)
	writeJSON(w, http.StatusCreated, created)
}

type amountRequest struct {
	Amount string `json:"amount"`
}

// IssueAsset handles POST /api/v1/assets/{asset}/issue.
func (h *Handler) IssueAsset(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a, ok := h.assetFromPath(w, r, h.state)
	if !ok {
		return
	}
	amount, err := a.AmountFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var dyn domain.DynamicData
	err = h.state.Update(func(tx *ledger.Tx) error {
		cur, err := tx.Asset(a.ID)
		if err != nil {
			return err
		}
		dyn, err = tx.ModifyDynamicData(a.ID, func(d *domain.DynamicData) error {
			return d.Issue(amount.Amount, cur.Options.MaxSupply)
		})
		return err
	})
	if err != nil {
		h.writeDomainError(w, "failed to issue asset", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"current_supply": a.AmountToString(dyn.CurrentSupply)})
}

type publishFeedRequest struct {
	Publisher domain.AccountID `json:"publisher"`
	Feed      domain.PriceFeed `json:"feed"`
}

// PublishFeed handles POST /api/v1/assets/{asset}/feeds.
func (h *Handler) PublishFeed(w http.ResponseWriter, r *http.Request) {
	var req publishFeedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a, ok := h.assetFromPath(w, r, h.state)
	if !ok {
		return
	}
	if err := h.feeds.Publish(h.state, a.ID, req.Publisher, req.Feed, h.now()); err != nil {
		h.writeDomainError(w, "failed to publish feed", err)
		return
	}
	b, err := h.state.BitassetData(a.ID)
	if err != nil {
		h.writeDomainError(w, "failed to read bitasset data", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type globalSettleRequest struct {
	Price domain.Price `json:"price"`
}

// GlobalSettle handles POST /api/v1/assets/{asset}/global-settle.
func (h *Handler) GlobalSettle(w http.ResponseWriter, r *http.Request) {
	var req globalSettleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a, ok := h.assetFromPath(w, r, h.state)
	if !ok {
		return
	}
	b, err := h.settler.GlobalSettle(h.state, a.ID, req.Price)
	if err != nil {
		h.writeDomainError(w, "failed to globally settle asset", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// ForceSettle handles POST /api/v1/assets/{asset}/force-settle.
func (h *Handler) ForceSettle(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a, ok := h.assetFromPath(w, r, h.state)
	if !ok {
		return
	}
	amount, err := a.AmountFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.settler.ForceSettle(h.state, a.ID, amount.Amount, h.now())
	if err != nil {
		h.writeDomainError(w, "failed to force settle", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DeleteAsset handles DELETE /api/v1/assets/{asset}.
func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	a, ok := h.assetFromPath(w, r, h.state.Snapshot())
	if !ok {
		return
	}
	err := h.state.Update(func(tx *ledger.Tx) error {
		return tx.DeleteAsset(a.ID)
	})
	if err != nil {
		h.writeDomainError(w, "failed to delete asset", err)
		return
	}
	slog.Info("asset deleted", "id", a.ID, "symbol", a.Symbol)
	writeJSON(w, http.StatusOK, map[string]domain.AssetID{"deleted": a.ID})
}

// WithDividends enables the endpoints that edit dividend data.
func (h *Handler) WithDividends(d DividendEditor) *Handler {
	h.dividends = d
	return h
}

// UpdateDividendOptions handles PUT /api/v1/assets/{asset}/dividend.
func (h *Handler) UpdateDividendOptions(w http.ResponseWriter, r *http.Request) {
	var opts domain.DividendOptions
	if !decodeBody(w, r, &opts) {
		return
	}
	a, ok := h.assetFromPath(w, r, h.state.Snapshot())
	if !ok {
		return
	}
	d, err := h.dividends.UpdateOptions(h.state, a.ID, opts)
	if err != nil {
		h.writeDomainError(w, "failed to update dividend options", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type dividendBalanceRequest struct {
	PayoutAsset string `json:"payout_asset"`
	Balance     string `json:"balance"`
}

// RecordDividendBalance handles POST /api/v1/assets/{asset}/dividend/balances.
func (h *Handler) RecordDividendBalance(w http.ResponseWriter, r *http.Request) {
	var req dividendBalanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	view := h.state.Snapshot()
	holder, ok := h.assetFromPath(w, r, view)
	if !ok {
		return
	}
	if !holder.PaysDividends() {
		writeError(w, http.StatusNotFound, "asset pays no dividends")
		return
	}
	payout, err := resolveAsset(view, req.PayoutAsset)
	if err != nil {
		if ledger.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "payout asset not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	observed, err := payout.AmountFromString(req.Balance)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	delta, err := h.dividends.RecordSnapshot(h.state, holder.ID, payout.ID, observed.Amount)
	if err != nil {
		h.writeDomainError(w, "failed to record dividend balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"balance": payout.AmountToString(observed.Amount),
		"delta":   payout.AmountToString(delta),
	})
}

// WithExternal enables the endpoints that record external ledger data.
func (h *Handler) WithExternal(x ExternalData) *Handler {
	h.external = x
	return h
}

// SetCollateral handles PUT /api/v1/external/collateral/{asset}.
func (h *Handler) SetCollateral(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a, ok := h.assetFromPath(w, r, h.state)
	if !ok {
		return
	}
	b, err := h.state.BitassetData(a.ID)
	if err != nil {
		h.writeDomainError(w, "failed to read bitasset data", err)
		return
	}
	backing, err := h.state.Asset(b.Options.ShortBackingAsset)
	if err != nil {
		h.writeDomainError(w, "failed to read backing asset", err)
		return
	}
	total, err := backing.AmountFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.external.SetCollateral(r.Context(), a.ID, total.Amount); err != nil {
		h.writeDomainError(w, "failed to record collateral", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"collateral": backing.AmountToPrettyString(total.Amount)})
}

// SetBalance handles PUT /api/v1/external/balances/{account}/{asset}.
func (h *Handler) SetBalance(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var account domain.AccountID
	if err := account.UnmarshalText([]byte(r.PathValue("account"))); err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id, expected 1.2.N")
		return
	}
	a, ok := h.assetFromPath(w, r, h.state)
	if !ok {
		return
	}
	amount, err := a.AmountFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.external.SetBalance(r.Context(), account, a.ID, amount.Amount); err != nil {
		h.writeDomainError(w, "failed to record balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"balance": a.AmountToPrettyString(amount.Amount)})
}

// RunMaintenance handles POST /api/v1/maintenance.
func (h *Handler) RunMaintenance(w http.ResponseWriter, r *http.Request) {
	pass, err := h.maintenance.RunOnce(r.Context())
	if err != nil {
		slog.Error("failed to run maintenance", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to run maintenance")
		return
	}
	writeJSON(w, http.StatusOK, pass)
}

// GetLatestSnapshot handles GET /api/v1/snapshots/latest.
func (h *Handler) GetLatestSnapshot(w http.ResponseWriter, r *http.Request) {
	s, err := h.snapshots.GetLatest(r.Context())
	if err != nil {
		if errors.Is(err, snapshot.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no snapshots found")
			return
		}
		slog.Error("failed to get latest snapshot", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ListSnapshots handles GET /api/v1/snapshots.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	const maxLimit = 365
	limit := 30
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = min(n, maxLimit)
		}
	}

	snapshots, err := h.snapshots.List(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list snapshots", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (h *Handler) corePrecision(view *ledger.State) uint8 {
	core, err := view.Asset(0)
	if err != nil {
		return 0
	}
	return core.Precision
}

func (h *Handler) writeDomainError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error(msg, "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateSymbol),
		errors.Is(err, domain.ErrAlreadySettled),
		errors.Is(err, domain.ErrReferenceIntegrityViolation):
		return http.StatusConflict
	case errors.Is(err, domain.ErrExceedsSettlementBudget),
		errors.Is(err, domain.ErrInsufficientSettlementFund),
		errors.Is(err, domain.ErrNoPriceFeed),
		errors.Is(err, domain.ErrForceSettleDisabled),
		errors.Is(err, domain.ErrGlobalSettleDisabled),
		errors.Is(err, domain.ErrNotSettled),
		errors.Is(err, domain.ErrNotMarketIssued):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidSymbol),
		errors.Is(err, domain.ErrInvalidAssetOptions),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrInvalidAmountFormat),
		errors.Is(err, domain.ErrNegativeAmount),
		errors.Is(err, domain.ErrSupplyExceedsMax),
		errors.Is(err, domain.ErrPriceExceedsCap),
		errors.Is(err, domain.ErrProtectedField):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.Warn("failed to write HTTP response body", "error", err)
		return
	}
	_, _ = w.Write([]byte("\n"))
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
