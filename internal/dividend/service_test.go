package dividend

import (
	"errors"
	"testing"
	"time"

	"github.com/mtlprog/chainstate/internal/domain"
	"github.com/mtlprog/chainstate/internal/ledger"
)

const (
	core domain.AssetID = 0
	div  domain.AssetID = 1
	gold domain.AssetID = 2

	distributionAccount domain.AccountID = 30
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type mockBalances struct {
	balances map[domain.AccountID]map[domain.AssetID]int64
	err      error
}

func (m *mockBalances) Balances(account domain.AccountID) (map[domain.AssetID]int64, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.balances[account], nil
}

func newState(t *testing.T, opts domain.DividendOptions) *ledger.State {
	t.Helper()
	s := ledger.New(nil)
	err := s.Update(func(tx *ledger.Tx) error {
		for _, req := range []ledger.NewAsset{
			{Symbol: "CORE", Options: domain.DefaultAssetOptions()},
			{Symbol: "DIV", Options: domain.DefaultAssetOptions(), Dividend: &opts, DistributionAccount: distributionAccount},
			{Symbol: "GOLD", Options: domain.DefaultAssetOptions()},
		} {
			if _, err := tx.CreateAsset(req); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("creating assets: %v", err)
	}
	return s
}

func TestRecordSnapshotDelta(t *testing.T) {
	s := newState(t, domain.DividendOptions{})
	svc := NewService(&mockBalances{})

	tests := []struct {
		name     string
		observed int64
		want     int64
	}{
		{"first snapshot", 500, 0},
		{"inflow", 700, 200},
		{"unchanged", 700, 0},
		{"outflow", 650, -50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.RecordSnapshot(s, div, core, tt.observed)
			if err != nil {
				t.Fatalf("RecordSnapshot() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("RecordSnapshot(%d) = %d, want %d", tt.observed, got, tt.want)
			}
		})
	}

	snap, err := s.DividendBalance(div, core)
	if err != nil {
		t.Fatal(err)
	}
	if snap.BalanceAtLastMaintenance != 650 {
		t.Errorf("BalanceAtLastMaintenance = %d, want 650", snap.BalanceAtLastMaintenance)
	}
}

func TestUpdateOptionsResetsTimes(t *testing.T) {
	interval := time.Hour
	s := newState(t, domain.DividendOptions{MinimumDistributionInterval: &interval})
	svc := NewService(&mockBalances{})

	if _, err := svc.Distribute(s, t0); err != nil {
		t.Fatal(err)
	}
	dd, err := s.DividendData(div)
	if err != nil {
		t.Fatal(err)
	}
	if dd.LastDistributionTime == nil {
		t.Fatal("Distribute() did not stamp the distribution time")
	}

	dd, err = svc.UpdateOptions(s, div, domain.DividendOptions{})
	if err != nil {
		t.Fatalf("UpdateOptions() error: %v", err)
	}
	if dd.LastDistributionTime != nil || dd.LastScheduledDistributionTime != nil ||
		dd.LastPayoutTime != nil || dd.LastScheduledPayoutTime != nil {
		t.Error("UpdateOptions() kept a timestamp")
	}

	zero := time.Duration(0)
	if _, err := svc.UpdateOptions(s, div, domain.DividendOptions{PayoutInterval: &zero}); !errors.Is(err, domain.ErrInvalidAssetOptions) {
		t.Errorf("UpdateOptions(zero interval) error = %v", err)
	}
	if _, err := svc.UpdateOptions(s, gold, domain.DividendOptions{}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("UpdateOptions(non-dividend asset) error = %v", err)
	}
}

func TestDistribute(t *testing.T) {
	interval := time.Hour
	next := t0.Add(30 * time.Minute)
	payoutInterval := 24 * time.Hour
	s := newState(t, domain.DividendOptions{
		MinimumDistributionInterval: &interval,
		NextPayoutTime:              &next,
		PayoutInterval:              &payoutInterval,
	})
	source := &mockBalances{balances: map[domain.AccountID]map[domain.AssetID]int64{
		distributionAccount: {core: 500, gold: 10},
	}}
	svc := NewService(source)

	report, err := svc.Distribute(s, t0)
	if err != nil {
		t.Fatalf("Distribute() error: %v", err)
	}
	if len(report.Distributions) != 0 || len(report.PaidOut) != 0 {
		t.Errorf("first Distribute() = %+v, want no inflows and no payout", report)
	}

	source.balances[distributionAccount] = map[domain.AssetID]int64{core: 700}

	// Inside the minimum interval nothing is recorded.
	report, err = svc.Distribute(s, t0.Add(10*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Distributions) != 0 {
		t.Errorf("Distribute() inside interval = %+v", report.Distributions)
	}

	report, err = svc.Distribute(s, t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	want := []Distribution{
		{Holder: div, Payout: core, Delta: 200},
		{Holder: div, Payout: gold, Delta: -10},
	}
	if len(report.Distributions) != len(want) {
		t.Fatalf("Distributions = %+v, want %+v", report.Distributions, want)
	}
	for i := range want {
		if report.Distributions[i] != want[i] {
			t.Errorf("Distributions[%d] = %+v, want %+v", i, report.Distributions[i], want[i])
		}
	}
	if len(report.PaidOut) != 1 || report.PaidOut[0] != div {
		t.Errorf("PaidOut = %v, want [%s]", report.PaidOut, div)
	}

	dd, err := s.DividendData(div)
	if err != nil {
		t.Fatal(err)
	}
	if want := next.Add(payoutInterval); !dd.Options.NextPayoutTime.Equal(want) {
		t.Errorf("NextPayoutTime = %v, want %v", dd.Options.NextPayoutTime, want)
	}
	if want := t0.Add(time.Hour); !dd.LastDistributionTime.Equal(want) {
		t.Errorf("LastDistributionTime = %v, want %v", dd.LastDistributionTime, want)
	}
}

func TestDistributeBalanceSourceFailure(t *testing.T) {
	s := newState(t, domain.DividendOptions{})
	boom := errors.New("account ledger unavailable")

	if _, err := NewService(&mockBalances{err: boom}).Distribute(s, t0); !errors.Is(err, boom) {
		t.Errorf("Distribute() error = %v, want %v", err, boom)
	}
	dd, err := s.DividendData(div)
	if err != nil {
		t.Fatal(err)
	}
	if dd.LastDistributionTime != nil {
		t.Error("failed Distribute() stamped the distribution time")
	}
}
