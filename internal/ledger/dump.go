package ledger

import (
	"fmt"

	"github.com/mtlprog/chainstate/internal/domain"
	"github.com/mtlprog/chainstate/internal/store"
)

// Dump is the complete content of a State, as persisted between runs.
type Dump struct {
	Assets           []domain.AssetRecord             `json:"assets"`
	DynamicData      []domain.DynamicData             `json:"dynamic_data"`
	Bitassets        []domain.BitassetData            `json:"bitassets"`
	Dividends        []domain.DividendData            `json:"dividends"`
	DividendBalances []domain.DividendBalanceSnapshot `json:"dividend_balances"`
	NextIDs          NextIDs                          `json:"next_ids"`
}

// NextIDs are the id counters of each table.
type NextIDs struct {
	Assets           uint64 `json:"assets"`
	DynamicData      uint64 `json:"dynamic_data"`
	Bitassets        uint64 `json:"bitassets"`
	Dividends        uint64 `json:"dividends"`
	DividendBalances uint64 `json:"dividend_balances"`
}

// Dump copies the state as of the last completed batch.
func (s *State) Dump() Dump {
	v := s.reader()
	return Dump{
		Assets:           v.assets.All(),
		DynamicData:      v.dynamic.All(),
		Bitassets:        v.bitassets.All(),
		Dividends:        v.dividends.All(),
		DividendBalances: v.balances.All(),
		NextIDs: NextIDs{
			Assets:           v.assets.NextID(),
			DynamicData:      v.dynamic.NextID(),
			Bitassets:        v.bitassets.NextID(),
			Dividends:        v.dividends.NextID(),
			DividendBalances: v.balances.NextID(),
		},
	}
}

// Restore replaces the whole state with d. On error the state is empty.
func (s *State) Restore(d Dump) error {
	if s.readOnly || s.w == nil {
		return store.ErrReadOnly
	}
	s.w.mu.Lock()
	defer s.w.mu.Unlock()
	defer s.w.publish()

	live := s.w.live
	if err := live.restoreLocked(d); err != nil {
		live.clearLocked()
		return err
	}
	return nil
}

func (s *State) restoreLocked(d Dump) error {
	if s.sessions.Depth() > 0 {
		return fmt.Errorf("restoring state: %d checkpoints open", s.sessions.Depth())
	}
	if err := s.assets.Restore(d.NextIDs.Assets, d.Assets); err != nil {
		return translate(err, "restoring assets")
	}
	if err := s.dynamic.Restore(d.NextIDs.DynamicData, d.DynamicData); err != nil {
		return translate(err, "restoring dynamic data")
	}
	if err := s.bitassets.Restore(d.NextIDs.Bitassets, d.Bitassets); err != nil {
		return translate(err, "restoring bitasset data")
	}
	if err := s.dividends.Restore(d.NextIDs.Dividends, d.Dividends); err != nil {
		return translate(err, "restoring dividend data")
	}
	if err := s.balances.Restore(d.NextIDs.DividendBalances, d.DividendBalances); err != nil {
		return translate(err, "restoring dividend balances")
	}

	for _, a := range d.Assets {
		if _, err := s.dynamic.Get(uint64(a.DynamicDataID)); err != nil {
			return translate(err, "restoring %s: dynamic data %s", a.Symbol, a.DynamicDataID)
		}
		if a.BitassetDataID != nil {
			b, err := s.bitassets.Get(uint64(*a.BitassetDataID))
			if err != nil {
				return translate(err, "restoring %s: bitasset data %s", a.Symbol, *a.BitassetDataID)
			}
			if b.AssetID != a.ID {
				return fmt.Errorf("restoring %s: bitasset data %s belongs to %s", a.Symbol, b.ID, b.AssetID)
			}
		}
		if a.DividendDataID != nil {
			if _, err := s.dividends.Get(uint64(*a.DividendDataID)); err != nil {
				return translate(err, "restoring %s: dividend data %s", a.Symbol, *a.DividendDataID)
			}
		}
	}
	return nil
}

func (s *State) clearLocked() {
	// Restoring empty tables cannot fail.
	_ = s.assets.Restore(0, nil)
	_ = s.dynamic.Restore(0, nil)
	_ = s.bitassets.Restore(0, nil)
	_ = s.dividends.Restore(0, nil)
	_ = s.balances.Restore(0, nil)
}
