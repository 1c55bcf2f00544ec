package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mtlprog/chainstate/internal/dividend"
	"github.com/mtlprog/chainstate/internal/domain"
	"github.com/mtlprog/chainstate/internal/feed"
	"github.com/mtlprog/chainstate/internal/ledger"
	"github.com/mtlprog/chainstate/internal/maintenance"
	"github.com/mtlprog/chainstate/internal/settlement"
	"github.com/mtlprog/chainstate/internal/snapshot"
)

const (
	core      domain.AssetID   = 0
	usd       domain.AssetID   = 1
	publisher domain.AccountID = 5
	adminKey                   = "secret-key"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type mockCollateral struct {
	total int64
}

func (m *mockCollateral) TotalCollateral(domain.AssetID) (int64, error) {
	return m.total, nil
}

type mockRunner struct {
	calls int
	err   error
}

func (m *mockRunner) RunOnce(context.Context) (maintenance.Pass, error) {
	m.calls++
	return maintenance.Pass{At: t0, FeedsRecomputed: 1}, m.err
}

type mockSnapshots struct {
	snapshots     []snapshot.Snapshot
	lastListLimit int
}

func (m *mockSnapshots) GetLatest(context.Context) (*snapshot.Snapshot, error) {
	if len(m.snapshots) == 0 {
		return nil, snapshot.ErrNotFound
	}
	return &m.snapshots[0], nil
}

func (m *mockSnapshots) List(_ context.Context, limit int) ([]snapshot.Snapshot, error) {
	m.lastListLimit = limit
	return m.snapshots[:min(limit, len(m.snapshots))], nil
}

type mockExternal struct {
	collateral map[domain.AssetID]int64
	balances   map[domain.AccountID]int64
}

func (m *mockExternal) SetCollateral(_ context.Context, asset domain.AssetID, total int64) error {
	m.collateral[asset] = total
	return nil
}

func (m *mockExternal) SetBalance(_ context.Context, account domain.AccountID, _ domain.AssetID, amount int64) error {
	if amount < 0 {
		return domain.ErrNegativeAmount
	}
	m.balances[account] = amount
	return nil
}

type testServer struct {
	state  *ledger.State
	mux    *http.ServeMux
	runner *mockRunner
}

// newTestServer creates CORE and a USD bitasset backed by CORE.
func newTestServer(t *testing.T, snapshots SnapshotLister) testServer {
	t.Helper()
	state := ledger.New(nil)
	err := state.Update(func(tx *ledger.Tx) error {
		if _, err := tx.CreateAsset(ledger.NewAsset{Symbol: "CORE", Precision: 5, Options: domain.DefaultAssetOptions()}); err != nil {
			return err
		}
		opts := domain.DefaultAssetOptions()
		opts.IssuerPermissions = domain.AssetIssuerPermissionMask
		bopts := domain.DefaultBitassetOptions(core)
		_, err := tx.CreateAsset(ledger.NewAsset{Symbol: "USD", Precision: 4, Issuer: 9, Options: opts, Bitasset: &bopts})
		return err
	})
	if err != nil {
		t.Fatalf("creating assets: %v", err)
	}

	runner := &mockRunner{}
	h := NewHandler(state, feed.NewAggregator(feed.NewStaticPublishers(publisher)),
		settlement.NewEngine(&mockCollateral{total: 700}), runner, snapshots)
	h.now = func() time.Time { return t0 }
	return testServer{state: state, mux: NewMux(h, adminKey), runner: runner}
}

func (s testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if method != http.MethodGet {
		req.Header.Set("Authorization", "Bearer "+adminKey)
	}
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestGetAssetBySymbolAndID(t *testing.T) {
	s := newTestServer(t, nil)

	for _, ref := range []string{"USD", "1.3.1"} {
		w := s.do(t, http.MethodGet, "/api/v1/assets/"+ref, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200: %s", ref, w.Code, w.Body)
		}
		got := decode[assetDetail](t, w)
		if got.ID != usd || !got.MarketIssued || got.CurrentSupply != "0" {
			t.Errorf("GET %s = %+v", ref, got.assetSummary)
		}
	}

	if w := s.do(t, http.MethodGet, "/api/v1/assets/EUR", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown symbol status = %d, want 404", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/assets/1.2.1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("account id as asset status = %d, want 400", w.Code)
	}
}

func TestListAssets(t *testing.T) {
	s := newTestServer(t, nil)

	all := decode[[]assetSummary](t, s.do(t, http.MethodGet, "/api/v1/assets", nil))
	if len(all) != 2 {
		t.Errorf("assets = %d, want 2", len(all))
	}
	bitassets := decode[[]assetSummary](t, s.do(t, http.MethodGet, "/api/v1/assets?market_issued=true", nil))
	if len(bitassets) != 1 || bitassets[0].Symbol != "USD" {
		t.Errorf("bitassets = %+v", bitassets)
	}
	issued := decode[[]assetSummary](t, s.do(t, http.MethodGet, "/api/v1/issuers/1.2.9/assets", nil))
	if len(issued) != 1 || issued[0].Symbol != "USD" {
		t.Errorf("issuer assets = %+v", issued)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/issuers/nope/assets", nil); w.Code != http.StatusBadRequest {
		t.Errorf("invalid issuer status = %d, want 400", w.Code)
	}
}

func TestCreateAsset(t *testing.T) {
	s := newTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/assets", createAssetRequest{Symbol: "GOLD", Precision: 2, Issuer: 3, MaxSupply: "1000.50"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body)
	}
	created := decode[domain.AssetRecord](t, w)
	if created.Symbol != "GOLD" || created.Options.MaxSupply != 100050 {
		t.Errorf("created = %+v", created)
	}

	tests := []struct {
		name string
		req  createAssetRequest
		want int
	}{
		{"duplicate symbol", createAssetRequest{Symbol: "GOLD"}, http.StatusConflict},
		{"invalid symbol", createAssetRequest{Symbol: "gold"}, http.StatusBadRequest},
		{"invalid max supply", createAssetRequest{Symbol: "SILVER", Precision: 2, MaxSupply: "1.234"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(t, http.MethodPost, "/api/v1/assets", tt.req); w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestCreateAssetRejectsUnknownFields(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/api/v1/assets", map[string]any{"symbol": "GOLD", "colour": "yellow"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestWriteEndpointsRequireAuth(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/assets/USD/issue", bytes.NewBufferString(`{"amount":"1"}`))
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestFeedAndForceSettleFlow(t *testing.T) {
	s := newTestServer(t, nil)

	if w := s.do(t, http.MethodPost, "/api/v1/assets/USD/issue", amountRequest{Amount: "1000"}); w.Code != http.StatusOK {
		t.Fatalf("issue status = %d: %s", w.Code, w.Body)
	}

	w := s.do(t, http.MethodPost, "/api/v1/assets/USD/force-settle", amountRequest{Amount: "100"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("force settle without feed status = %d, want 422: %s", w.Code, w.Body)
	}

	pf := domain.NewPriceFeed(domain.Price{
		Base:  domain.AssetAmount{Amount: 2, AssetID: usd},
		Quote: domain.AssetAmount{Amount: 1, AssetID: core},
	})
	w = s.do(t, http.MethodPost, "/api/v1/assets/USD/feeds", publishFeedRequest{Publisher: publisher, Feed: pf})
	if w.Code != http.StatusOK {
		t.Fatalf("publish status = %d: %s", w.Code, w.Body)
	}
	b := decode[domain.BitassetData](t, w)
	if domain.ComparePrices(b.CurrentFeed.SettlementPrice, pf.SettlementPrice) != 0 {
		t.Errorf("current feed = %s, want %s", b.CurrentFeed.SettlementPrice, pf.SettlementPrice)
	}

	w = s.do(t, http.MethodPost, "/api/v1/assets/USD/force-settle", amountRequest{Amount: "100"})
	if w.Code != http.StatusOK {
		t.Fatalf("force settle status = %d: %s", w.Code, w.Body)
	}
	res := decode[settlement.Result](t, w)
	if res.Amount != 1_000_000 || res.Collateral.Amount != 500_000 || res.Collateral.AssetID != core {
		t.Errorf("result = %+v", res)
	}

	budget := decode[budgetResponse](t, s.do(t, http.MethodGet, "/api/v1/assets/USD/settlement-budget", nil))
	// 20% of 1000 issued, with the 100 already settled counted back in.
	if budget.Limit != "200" || budget.Used != "100" || budget.Remaining != "100" {
		t.Errorf("budget = %+v", budget)
	}

	dyn := decode[dynamicResponse](t, s.do(t, http.MethodGet, "/api/v1/assets/USD/dynamic", nil))
	if dyn.CurrentSupply != "900" {
		t.Errorf("current supply = %s, want 900", dyn.CurrentSupply)
	}

	w = s.do(t, http.MethodPost, "/api/v1/assets/USD/force-settle", amountRequest{Amount: "100.00001"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("over-precise amount status = %d, want 400", w.Code)
	}
}

func TestGlobalSettleEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	price := domain.Price{
		Base:  domain.AssetAmount{Amount: 1, AssetID: usd},
		Quote: domain.AssetAmount{Amount: 1, AssetID: core},
	}

	w := s.do(t, http.MethodPost, "/api/v1/assets/USD/global-settle", globalSettleRequest{Price: price})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if b := decode[domain.BitassetData](t, w); b.SettlementFund != 700 {
		t.Errorf("settlement fund = %d, want 700", b.SettlementFund)
	}

	w = s.do(t, http.MethodPost, "/api/v1/assets/USD/global-settle", globalSettleRequest{Price: price})
	if w.Code != http.StatusConflict {
		t.Errorf("second settle status = %d, want 409", w.Code)
	}
	w = s.do(t, http.MethodPost, "/api/v1/assets/CORE/global-settle", globalSettleRequest{Price: price})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("settle of plain asset status = %d, want 422", w.Code)
	}
}

func TestGetBitassetOfPlainAsset(t *testing.T) {
	s := newTestServer(t, nil)
	if w := s.do(t, http.MethodGet, "/api/v1/assets/CORE/bitasset", nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/assets/CORE/dividend", nil); w.Code != http.StatusNotFound {
		t.Errorf("dividend of plain asset status = %d, want 404", w.Code)
	}
}

func TestRunMaintenance(t *testing.T) {
	s := newTestServer(t, nil)
	w := s.do(t, http.MethodPost, "/api/v1/maintenance", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if s.runner.calls != 1 {
		t.Errorf("runner calls = %d, want 1", s.runner.calls)
	}

	s.runner.err = errors.New("boom")
	if w := s.do(t, http.MethodPost, "/api/v1/maintenance", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("failing pass status = %d, want 500", w.Code)
	}
}

func TestSnapshotEndpoints(t *testing.T) {
	repo := &mockSnapshots{}
	s := newTestServer(t, repo)

	if w := s.do(t, http.MethodGet, "/api/v1/snapshots/latest", nil); w.Code != http.StatusNotFound {
		t.Errorf("latest without snapshots status = %d, want 404", w.Code)
	}

	repo.snapshots = []snapshot.Snapshot{{ID: 2, TakenAt: t0}, {ID: 1, TakenAt: t0.Add(-time.Hour)}}
	latest := decode[snapshot.Snapshot](t, s.do(t, http.MethodGet, "/api/v1/snapshots/latest", nil))
	if latest.ID != 2 {
		t.Errorf("latest id = %d, want 2", latest.ID)
	}

	list := decode[[]snapshot.Snapshot](t, s.do(t, http.MethodGet, "/api/v1/snapshots?limit=1000", nil))
	if len(list) != 2 || repo.lastListLimit != 365 {
		t.Errorf("list = %d items, limit %d", len(list), repo.lastListLimit)
	}
}

func TestSnapshotRoutesAbsentWithoutStore(t *testing.T) {
	s := newTestServer(t, nil)
	if w := s.do(t, http.MethodGet, "/api/v1/snapshots/latest", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestExternalDataEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	if w := s.do(t, http.MethodPut, "/api/v1/external/collateral/USD", amountRequest{Amount: "1"}); w.Code != http.StatusNotFound {
		t.Fatalf("external routes registered without a store: status %d", w.Code)
	}

	ext := &mockExternal{collateral: map[domain.AssetID]int64{}, balances: map[domain.AccountID]int64{}}
	h := NewHandler(s.state, nil, nil, nil, nil).WithExternal(ext)
	s.mux = NewMux(h, adminKey)

	w := s.do(t, http.MethodPut, "/api/v1/external/collateral/USD", amountRequest{Amount: "7.5"})
	if w.Code != http.StatusOK {
		t.Fatalf("collateral status = %d: %s", w.Code, w.Body)
	}
	// Collateral is denominated in CORE, precision 5.
	if ext.collateral[usd] != 750_000 {
		t.Errorf("collateral = %d, want 750000", ext.collateral[usd])
	}
	if w := s.do(t, http.MethodPut, "/api/v1/external/collateral/CORE", amountRequest{Amount: "1"}); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("collateral of plain asset status = %d, want 422", w.Code)
	}

	w = s.do(t, http.MethodPut, "/api/v1/external/balances/1.2.30/USD", amountRequest{Amount: "12.5"})
	if w.Code != http.StatusOK {
		t.Fatalf("balance status = %d: %s", w.Code, w.Body)
	}
	if ext.balances[30] != 125_000 {
		t.Errorf("balance = %d, want 125000", ext.balances[30])
	}
	if w := s.do(t, http.MethodPut, "/api/v1/external/balances/1.2.30/USD", amountRequest{Amount: "-1"}); w.Code != http.StatusBadRequest {
		t.Errorf("negative balance status = %d, want 400", w.Code)
	}
	if w := s.do(t, http.MethodPut, "/api/v1/external/balances/USD/USD", amountRequest{Amount: "1"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid account status = %d, want 400", w.Code)
	}
}

func TestDeleteAsset(t *testing.T) {
	s := newTestServer(t, nil)
	if w := s.do(t, http.MethodPost, "/api/v1/assets", createAssetRequest{Symbol: "GOLD", Precision: 2}); w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body)
	}

	w := s.do(t, http.MethodDelete, "/api/v1/assets/GOLD", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200: %s", w.Code, w.Body)
	}
	if w := s.do(t, http.MethodGet, "/api/v1/assets/GOLD", nil); w.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", w.Code)
	}

	tests := []struct {
		name string
		ref  string
		want int
	}{
		{"backing asset in use", "CORE", http.StatusConflict},
		{"already deleted", "GOLD", http.StatusNotFound},
		{"malformed id", "1.2.1", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(t, http.MethodDelete, "/api/v1/assets/"+tt.ref, nil); w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body)
			}
		})
	}
	if _, err := s.state.AssetBySymbol("CORE"); err != nil {
		t.Errorf("CORE removed by a rejected delete: %v", err)
	}
}

func TestDividendEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	day := 24 * time.Hour
	next := t0
	w := s.do(t, http.MethodPost, "/api/v1/assets", createAssetRequest{
		Symbol:              "DIV",
		Precision:           2,
		Dividend:            &domain.DividendOptions{NextPayoutTime: &next, PayoutInterval: &day},
		DistributionAccount: 7,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body)
	}

	h := NewHandler(s.state, nil, nil, nil, nil).WithDividends(dividend.NewService(nil))
	s.mux = NewMux(h, adminKey)

	w = s.do(t, http.MethodPut, "/api/v1/assets/DIV/dividend", map[string]any{
		"payout_interval":        int64(time.Hour),
		"minimum_fee_percentage": 10,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body)
	}
	got := decode[domain.DividendData](t, w)
	if got.Options.MinimumFeePercentage != 10 || got.Options.PayoutInterval == nil || *got.Options.PayoutInterval != time.Hour {
		t.Errorf("options = %+v", got.Options)
	}
	if got.Options.NextPayoutTime != nil {
		t.Errorf("next payout time = %v, want replaced with nil", got.Options.NextPayoutTime)
	}

	updates := []struct {
		name string
		path string
		body map[string]any
		want int
	}{
		{"plain asset", "/api/v1/assets/CORE/dividend", map[string]any{"minimum_fee_percentage": 1}, http.StatusNotFound},
		{"non-positive interval", "/api/v1/assets/DIV/dividend", map[string]any{"payout_interval": -1}, http.StatusBadRequest},
		{"unknown field", "/api/v1/assets/DIV/dividend", map[string]any{"interval": 1}, http.StatusBadRequest},
	}
	for _, tt := range updates {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(t, http.MethodPut, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body)
			}
		})
	}

	// CORE has precision 5.
	first := decode[map[string]string](t, s.do(t, http.MethodPost, "/api/v1/assets/DIV/dividend/balances", dividendBalanceRequest{PayoutAsset: "CORE", Balance: "1"}))
	if first["delta"] != "0" || first["balance"] != "1" {
		t.Errorf("first snapshot = %v, want balance 1 delta 0", first)
	}
	second := decode[map[string]string](t, s.do(t, http.MethodPost, "/api/v1/assets/DIV/dividend/balances", dividendBalanceRequest{PayoutAsset: "1.3.0", Balance: "3"}))
	if second["delta"] != "2" {
		t.Errorf("second snapshot delta = %q, want 2", second["delta"])
	}
	if n := len(s.state.DividendBalances(2)); n != 1 {
		t.Errorf("dividend balances = %d, want 1", n)
	}

	balances := []struct {
		name string
		path string
		req  dividendBalanceRequest
		want int
	}{
		{"holder pays no dividends", "/api/v1/assets/CORE/dividend/balances", dividendBalanceRequest{PayoutAsset: "USD", Balance: "1"}, http.StatusNotFound},
		{"unknown payout asset", "/api/v1/assets/DIV/dividend/balances", dividendBalanceRequest{PayoutAsset: "EUR", Balance: "1"}, http.StatusNotFound},
		{"negative balance", "/api/v1/assets/DIV/dividend/balances", dividendBalanceRequest{PayoutAsset: "CORE", Balance: "-1"}, http.StatusBadRequest},
		{"too many decimals", "/api/v1/assets/DIV/dividend/balances", dividendBalanceRequest{PayoutAsset: "CORE", Balance: "0.000001"}, http.StatusBadRequest},
	}
	for _, tt := range balances {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(t, http.MethodPost, tt.path, tt.req); w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body)
			}
		})
	}

	// Deleting the holder drops its balance snapshots.
	if w := s.do(t, http.MethodDelete, "/api/v1/assets/DIV", nil); w.Code != http.StatusOK {
		t.Fatalf("delete DIV status = %d: %s", w.Code, w.Body)
	}
	if n := len(s.state.DividendBalances(2)); n != 0 {
		t.Errorf("dividend balances after delete = %d, want 0", n)
	}
}
