// Package ledger is the asset database: asset records, their dynamic data,
// bitasset and dividend data, and dividend balance snapshots, with the
// indices the rest of the node queries them by.
package ledger

import (
	"cmp"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtlprog/chainstate/internal/domain"
	"github.com/mtlprog/chainstate/internal/store"
)

// ReferenceChecker reports whether objects outside the asset database still
// reference an asset, e.g. balances, orders or proposals.
type ReferenceChecker interface {
	AssetReferenced(asset domain.AssetID) (bool, error)
}

type marketKey struct {
	marketIssued bool
	id           domain.AssetID
}

func compareMarketKey(a, b marketKey) int {
	if a.marketIssued != b.marketIssued {
		if !a.marketIssued {
			return -1
		}
		return 1
	}
	return cmp.Compare(a.id, b.id)
}

type balanceKey struct {
	holder domain.AssetID
	payout domain.AssetID
}

func compareBalanceKey(a, b balanceKey) int {
	if c := cmp.Compare(a.holder, b.holder); c != 0 {
		return c
	}
	return cmp.Compare(a.payout, b.payout)
}

// State owns the asset tables. Writes go through Update, which serializes
// writers and runs each batch in an undo session. Reads on a State returned
// by New see the last committed batch and never wait for a running one.
type State struct {
	readOnly bool
	refs     ReferenceChecker
	// Set on the handle returned by New only.
	w *writer

	assets    *store.Table[domain.AssetRecord]
	dynamic   *store.Table[domain.DynamicData]
	bitassets *store.Table[domain.BitassetData]
	dividends *store.Table[domain.DividendData]
	balances  *store.Table[domain.DividendBalanceSnapshot]
	sessions  *store.Group

	bySymbol       *store.Index[domain.AssetRecord, string]
	byIssuer       *store.Index[domain.AssetRecord, domain.AccountID]
	byMarketIssued *store.Index[domain.AssetRecord, marketKey]
	byExpiration   *store.Index[domain.BitassetData, time.Time]
	byHolderPayout *store.Index[domain.DividendBalanceSnapshot, balanceKey]
}

type writer struct {
	mu        sync.Mutex
	live      *State
	committed atomic.Pointer[State]
}

// publish makes the live tables the committed view; callers hold mu.
func (w *writer) publish() {
	w.committed.Store(w.live.snapshotLocked())
}

// New creates an empty state. refs may be nil when nothing outside the
// asset database references assets.
func New(refs ReferenceChecker) *State {
	live := newTables(refs)
	h := *live
	h.w = &writer{live: live}
	h.w.publish()
	return &h
}

func newTables(refs ReferenceChecker) *State {
	s := &State{
		refs:      refs,
		assets:    store.NewTable("asset", store.Undoable, func(a domain.AssetRecord) uint64 { return uint64(a.ID) }),
		dynamic:   store.NewTable("asset_dynamic_data", store.Undoable, func(d domain.DynamicData) uint64 { return uint64(d.ID) }),
		bitassets: store.NewTable("asset_bitasset_data", store.Flat, func(b domain.BitassetData) uint64 { return uint64(b.ID) }),
		dividends: store.NewTable("asset_dividend_data", store.Flat, func(d domain.DividendData) uint64 { return uint64(d.ID) }),
		balances:  store.NewTable("distributed_dividend_balance_data", store.Undoable, func(b domain.DividendBalanceSnapshot) uint64 { return uint64(b.ID) }),
	}
	s.sessions = store.NewGroup(s.assets, s.dynamic, s.bitassets, s.dividends, s.balances)

	s.bySymbol = store.MustAddIndex(s.assets, "by_symbol", true,
		func(a domain.AssetRecord) string { return a.Symbol }, strings.Compare)
	s.byIssuer = store.MustAddIndex(s.assets, "by_issuer", false,
		func(a domain.AssetRecord) domain.AccountID { return a.Issuer }, cmp.Compare[domain.AccountID])
	s.byMarketIssued = store.MustAddIndex(s.assets, "by_type", true,
		func(a domain.AssetRecord) marketKey { return marketKey{a.IsMarketIssued(), a.ID} }, compareMarketKey)
	s.byExpiration = store.MustAddIndex(s.bitassets, "by_feed_expiration", false,
		func(b domain.BitassetData) time.Time { return b.FeedExpirationTime() }, time.Time.Compare)
	s.byHolderPayout = store.MustAddIndex(s.balances, "by_holder_payout", true,
		func(b domain.DividendBalanceSnapshot) balanceKey { return balanceKey{b.HolderAsset, b.PayoutAsset} }, compareBalanceKey)

	return s
}

// Snapshot returns a consistent read-only view of the state as of the last
// committed batch. It does not wait for a running batch. Writes through the
// view fail with store.ErrReadOnly.
func (s *State) Snapshot() *State {
	if s.w == nil {
		return s
	}
	return s.w.committed.Load()
}

// reader is the State reads are served from: the committed view for the
// handle returned by New, the receiver itself for views and batches.
func (s *State) reader() *State {
	if s.w == nil {
		return s
	}
	return s.w.committed.Load()
}

func (s *State) snapshotLocked() *State {
	v := &State{
		readOnly:  true,
		refs:      s.refs,
		assets:    s.assets.Snapshot(),
		dynamic:   s.dynamic.Snapshot(),
		bitassets: s.bitassets.Snapshot(),
		dividends: s.dividends.Snapshot(),
		balances:  s.balances.Snapshot(),
	}
	v.sessions = store.NewGroup(v.assets, v.dynamic, v.bitassets, v.dividends, v.balances)
	v.bySymbol = s.bySymbol.In(v.assets)
	v.byIssuer = s.byIssuer.In(v.assets)
	v.byMarketIssued = s.byMarketIssued.In(v.assets)
	v.byExpiration = s.byExpiration.In(v.bitassets)
	v.byHolderPayout = s.byHolderPayout.In(v.balances)
	return v
}

// Update runs fn as one atomic batch. If fn returns an error every write it
// made is rolled back. Readers see the batch once it commits.
func (s *State) Update(fn func(tx *Tx) error) error {
	if s.readOnly || s.w == nil {
		return store.ErrReadOnly
	}
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	if err := (&Tx{State: s.w.live}).Update(fn); err != nil {
		return err
	}
	s.w.publish()
	return nil
}

func (s *State) Asset(id domain.AssetID) (domain.AssetRecord, error) {
	a, err := s.reader().assets.Get(uint64(id))
	if err != nil {
		return domain.AssetRecord{}, notFound(err, "asset %s", id)
	}
	return a, nil
}

func (s *State) AssetBySymbol(symbol string) (domain.AssetRecord, error) {
	a, err := s.reader().bySymbol.Find(symbol)
	if err != nil {
		return domain.AssetRecord{}, notFound(err, "asset %q", symbol)
	}
	return a, nil
}

// AssetsByIssuer returns the issuer's assets in id order.
func (s *State) AssetsByIssuer(issuer domain.AccountID) []domain.AssetRecord {
	return s.reader().byIssuer.Equal(issuer)
}

// Assets returns every asset in id order.
func (s *State) Assets() []domain.AssetRecord {
	return s.reader().assets.All()
}

// Bitassets returns every market-issued asset in id order.
func (s *State) Bitassets() []domain.AssetRecord {
	var out []domain.AssetRecord
	s.reader().byMarketIssued.AscendFrom(marketKey{marketIssued: true}, func(_ marketKey, a domain.AssetRecord) bool {
		out = append(out, a)
		return true
	})
	return out
}

func (s *State) DynamicData(asset domain.AssetID) (domain.DynamicData, error) {
	r := s.reader()
	a, err := r.Asset(asset)
	if err != nil {
		return domain.DynamicData{}, err
	}
	d, err := r.dynamic.Get(uint64(a.DynamicDataID))
	if err != nil {
		return domain.DynamicData{}, notFound(err, "dynamic data of %s", asset)
	}
	return d, nil
}

// BitassetData returns the bitasset data of a market-issued asset.
func (s *State) BitassetData(asset domain.AssetID) (domain.BitassetData, error) {
	r := s.reader()
	a, err := r.Asset(asset)
	if err != nil {
		return domain.BitassetData{}, err
	}
	if a.BitassetDataID == nil {
		return domain.BitassetData{}, fmt.Errorf("%s: %w", a.Symbol, domain.ErrNotMarketIssued)
	}
	b, err := r.bitassets.Get(uint64(*a.BitassetDataID))
	if err != nil {
		return domain.BitassetData{}, notFound(err, "bitasset data of %s", asset)
	}
	return b, nil
}

// DividendData returns the dividend data of a dividend-paying asset.
func (s *State) DividendData(asset domain.AssetID) (domain.DividendData, error) {
	r := s.reader()
	a, err := r.Asset(asset)
	if err != nil {
		return domain.DividendData{}, err
	}
	if a.DividendDataID == nil {
		return domain.DividendData{}, fmt.Errorf("dividend data of %s: %w", a.Symbol, domain.ErrNotFound)
	}
	d, err := r.dividends.Get(uint64(*a.DividendDataID))
	if err != nil {
		return domain.DividendData{}, notFound(err, "dividend data of %s", asset)
	}
	return d, nil
}

// BitassetsByFeedExpiration returns bitasset data whose current feed expires
// at or before until, soonest first.
func (s *State) BitassetsByFeedExpiration(until time.Time) []domain.BitassetData {
	var out []domain.BitassetData
	s.reader().byExpiration.Ascend(func(exp time.Time, b domain.BitassetData) bool {
		if exp.After(until) {
			return false
		}
		out = append(out, b)
		return true
	})
	return out
}

// DividendBalance returns the balance snapshot for a holder/payout pair.
func (s *State) DividendBalance(holder, payout domain.AssetID) (domain.DividendBalanceSnapshot, error) {
	b, err := s.reader().byHolderPayout.Find(balanceKey{holder, payout})
	if err != nil {
		return domain.DividendBalanceSnapshot{}, notFound(err, "dividend balance %s/%s", holder, payout)
	}
	return b, nil
}

// DividendBalances returns every snapshot held for a dividend-paying asset.
func (s *State) DividendBalances(holder domain.AssetID) []domain.DividendBalanceSnapshot {
	var out []domain.DividendBalanceSnapshot
	s.reader().byHolderPayout.AscendFrom(balanceKey{holder: holder}, func(k balanceKey, b domain.DividendBalanceSnapshot) bool {
		if k.holder != holder {
			return false
		}
		out = append(out, b)
		return true
	})
	return out
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf(format+": %w", append(args, domain.ErrNotFound)...)
	}
	return err
}
