package domain

import (
	"fmt"
	"time"
)

// DividendData holds the payout schedule of a dividend-paying asset.
type DividendData struct {
	ID      DividendDataID  `json:"id"`
	AssetID AssetID         `json:"asset_id"`
	Options DividendOptions `json:"options"`

	// Reset whenever Options change.
	LastScheduledPayoutTime *time.Time `json:"last_scheduled_payout_time,omitempty"`
	// Maintenance time at or after LastScheduledPayoutTime when payouts ran.
	LastPayoutTime *time.Time `json:"last_payout_time,omitempty"`
	// Reset whenever Options change.
	LastScheduledDistributionTime *time.Time `json:"last_scheduled_distribution_time,omitempty"`
	LastDistributionTime          *time.Time `json:"last_distribution_time,omitempty"`

	DistributionAccount AccountID `json:"dividend_distribution_account"`
}

func (d DividendData) ObjectID() ObjectID { return d.ID.ObjectID() }

// Clone returns a deep copy.
func (d DividendData) Clone() DividendData {
	d.Options = d.Options.clone()
	d.LastScheduledPayoutTime = clonePtr(d.LastScheduledPayoutTime)
	d.LastPayoutTime = clonePtr(d.LastPayoutTime)
	d.LastScheduledDistributionTime = clonePtr(d.LastScheduledDistributionTime)
	d.LastDistributionTime = clonePtr(d.LastDistributionTime)
	return d
}

// SetOptions replaces the options and clears every payout and distribution timestamp.
func (d *DividendData) SetOptions(opts DividendOptions) {
	d.Options = opts.clone()
	d.LastScheduledPayoutTime = nil
	d.LastPayoutTime = nil
	d.LastScheduledDistributionTime = nil
	d.LastDistributionTime = nil
}

// MarkDistribution records that pending payouts were computed at now.
func (d *DividendData) MarkDistribution(now time.Time) {
	scheduled := now
	if d.LastScheduledDistributionTime != nil && d.Options.MinimumDistributionInterval != nil {
		next := d.LastScheduledDistributionTime.Add(*d.Options.MinimumDistributionInterval)
		if !next.After(now) {
			scheduled = next
		}
	}
	d.LastScheduledDistributionTime = &scheduled
	at := now
	d.LastDistributionTime = &at
}

// DistributionDue reports whether enough time has passed since the last distribution.
func (d DividendData) DistributionDue(now time.Time) bool {
	if d.LastScheduledDistributionTime == nil || d.Options.MinimumDistributionInterval == nil {
		return true
	}
	return !now.Before(d.LastScheduledDistributionTime.Add(*d.Options.MinimumDistributionInterval))
}

// MarkPayout records a payout when one is scheduled at or before now and
// moves NextPayoutTime past now. It reports whether a payout was due.
func (d *DividendData) MarkPayout(now time.Time) bool {
	next := d.Options.NextPayoutTime
	if next == nil || now.Before(*next) {
		return false
	}
	scheduled := *next
	d.LastScheduledPayoutTime = &scheduled
	at := now
	d.LastPayoutTime = &at

	interval := d.Options.PayoutInterval
	if interval == nil || *interval <= 0 {
		d.Options.NextPayoutTime = nil
		return true
	}
	following := nextAfter(scheduled, *interval, now)
	d.Options.NextPayoutTime = &following
	return true
}

// nextAfter returns the first time on the grid start + k*interval that is
// strictly after now. start must not be after now.
func nextAfter(start time.Time, interval time.Duration, now time.Time) time.Time {
	elapsed := now.Sub(start)
	next := start.Add(elapsed - elapsed%interval).Add(interval)
	if !next.After(now) {
		// now.Sub saturates for gaps beyond ~292 years.
		next = now.Add(interval)
	}
	return next
}

// Validate checks the dividend schedule.
func (o DividendOptions) Validate() error {
	if o.PayoutInterval != nil && *o.PayoutInterval <= 0 {
		return fmt.Errorf("%w: payout interval must be positive", ErrInvalidAssetOptions)
	}
	if o.MinimumDistributionInterval != nil && *o.MinimumDistributionInterval < 0 {
		return fmt.Errorf("%w: negative minimum distribution interval", ErrInvalidAssetOptions)
	}
	return nil
}

// DividendBalanceSnapshot remembers the balance of a payout asset held by a
// dividend distribution account at the last maintenance interval.
type DividendBalanceSnapshot struct {
	ID                       DividendBalanceID `json:"id"`
	HolderAsset              AssetID           `json:"dividend_holder_asset_type"`
	PayoutAsset              AssetID           `json:"dividend_payout_asset_type"`
	BalanceAtLastMaintenance int64             `json:"balance_at_last_maintenance_interval"`
}

func (s DividendBalanceSnapshot) ObjectID() ObjectID { return s.ID.ObjectID() }

func (s DividendBalanceSnapshot) Clone() DividendBalanceSnapshot { return s }

// Delta is the amount deposited since the snapshot was taken.
func (s DividendBalanceSnapshot) Delta(observed int64) int64 {
	return observed - s.BalanceAtLastMaintenance
}
