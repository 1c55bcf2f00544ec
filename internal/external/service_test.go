package external

import (
	"context"
	"errors"
	"testing"

	"github.com/mtlprog/chainstate/internal/domain"
)

type mockRepo struct {
	collateral map[domain.AssetID]int64
	balances   map[domain.AccountID]map[domain.AssetID]int64
	loadErr    error
	saveErr    error
	saves      int
}

func (m *mockRepo) SaveCollateral(_ context.Context, asset domain.AssetID, total int64) error {
	m.saves++
	return m.saveErr
}

func (m *mockRepo) SaveBalance(_ context.Context, _ domain.AccountID, _ domain.AssetID, _ int64) error {
	m.saves++
	return m.saveErr
}

func (m *mockRepo) LoadCollateral(_ context.Context) (map[domain.AssetID]int64, error) {
	return m.collateral, m.loadErr
}

func (m *mockRepo) LoadBalances(_ context.Context) (map[domain.AccountID]map[domain.AssetID]int64, error) {
	return m.balances, nil
}

func TestRefreshLoadsCache(t *testing.T) {
	repo := &mockRepo{
		collateral: map[domain.AssetID]int64{1: 700},
		balances:   map[domain.AccountID]map[domain.AssetID]int64{30: {0: 500}},
	}
	svc := NewService(repo)

	if got, _ := svc.TotalCollateral(1); got != 0 {
		t.Errorf("TotalCollateral() before refresh = %d, want 0", got)
	}
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() unexpected error: %v", err)
	}
	if got, _ := svc.TotalCollateral(1); got != 700 {
		t.Errorf("TotalCollateral() = %d, want 700", got)
	}

	balances, err := svc.Balances(30)
	if err != nil {
		t.Fatalf("Balances() unexpected error: %v", err)
	}
	if balances[0] != 500 {
		t.Errorf("Balances()[1.3.0] = %d, want 500", balances[0])
	}
	balances[0] = 1
	if again, _ := svc.Balances(30); again[0] != 500 {
		t.Error("Balances() returned the cached map")
	}

	if unknown, _ := svc.Balances(99); len(unknown) != 0 {
		t.Errorf("Balances() of unknown account = %v", unknown)
	}
}

func TestRefreshErrorKeepsCache(t *testing.T) {
	repo := &mockRepo{collateral: map[domain.AssetID]int64{1: 700}}
	svc := NewService(repo)
	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	repo.loadErr = errors.New("connection reset")
	if err := svc.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if got, _ := svc.TotalCollateral(1); got != 700 {
		t.Errorf("TotalCollateral() after failed refresh = %d, want 700", got)
	}
}

func TestSetters(t *testing.T) {
	repo := &mockRepo{}
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.SetCollateral(ctx, 1, 900); err != nil {
		t.Fatalf("SetCollateral() unexpected error: %v", err)
	}
	if err := svc.SetBalance(ctx, 30, 0, 250); err != nil {
		t.Fatalf("SetBalance() unexpected error: %v", err)
	}
	if got, _ := svc.TotalCollateral(1); got != 900 {
		t.Errorf("TotalCollateral() = %d, want 900", got)
	}
	if b, _ := svc.Balances(30); b[0] != 250 {
		t.Errorf("Balances() = %v", b)
	}

	if err := svc.SetCollateral(ctx, 1, -1); !errors.Is(err, domain.ErrNegativeAmount) {
		t.Errorf("SetCollateral(-1) error = %v, want ErrNegativeAmount", err)
	}

	repo.saveErr = errors.New("disk full")
	if err := svc.SetBalance(ctx, 30, 0, 1); err == nil {
		t.Fatal("expected save error")
	}
	if b, _ := svc.Balances(30); b[0] != 250 {
		t.Error("failed save changed the cache")
	}
	if repo.saves != 3 {
		t.Errorf("saves = %d, want 3", repo.saves)
	}
}
