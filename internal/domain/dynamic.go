package domain

import "fmt"

// DynamicData holds the counters of an asset that change with almost every
// transaction. Keeping them apart from AssetRecord keeps undo entries small.
type DynamicData struct {
	ID                 DynamicDataID `json:"id"`
	CurrentSupply      int64         `json:"current_supply"`
	ConfidentialSupply int64         `json:"confidential_supply"`
	AccumulatedFees    int64         `json:"accumulated_fees"`
	FeePool            int64         `json:"fee_pool"`
}

func (d DynamicData) ObjectID() ObjectID { return d.ID.ObjectID() }

func (d DynamicData) Clone() DynamicData { return d }

// Check verifies the counters against the owning asset's max supply.
func (d DynamicData) Check(maxSupply int64) error {
	if d.CurrentSupply < 0 || d.ConfidentialSupply < 0 || d.AccumulatedFees < 0 || d.FeePool < 0 {
		return fmt.Errorf("%w: dynamic data %s", ErrNegativeAmount, d.ID)
	}
	if d.CurrentSupply > maxSupply {
		return fmt.Errorf("%w: %d > %d", ErrSupplyExceedsMax, d.CurrentSupply, maxSupply)
	}
	return nil
}

// Issue adds newly created shares to the current supply.
func (d *DynamicData) Issue(amount, maxSupply int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: issue %d", ErrNegativeAmount, amount)
	}
	if amount > maxSupply-d.CurrentSupply {
		return fmt.Errorf("%w: issuing %d on top of %d (max %d)", ErrSupplyExceedsMax, amount, d.CurrentSupply, maxSupply)
	}
	d.CurrentSupply += amount
	return nil
}

// Reserve removes shares from the current supply.
func (d *DynamicData) Reserve(amount int64) error {
	if amount < 0 || amount > d.CurrentSupply {
		return fmt.Errorf("%w: reserving %d of %d", ErrNegativeAmount, amount, d.CurrentSupply)
	}
	d.CurrentSupply -= amount
	return nil
}

// AccumulateFees adds market or transfer fees collected in this asset.
func (d *DynamicData) AccumulateFees(amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: fee %d", ErrNegativeAmount, amount)
	}
	d.AccumulatedFees += amount
	return nil
}

// ClaimFees withdraws accumulated fees for the issuer.
func (d *DynamicData) ClaimFees(amount int64) error {
	if amount < 0 || amount > d.AccumulatedFees {
		return fmt.Errorf("%w: claiming %d of %d accumulated fees", ErrNegativeAmount, amount, d.AccumulatedFees)
	}
	d.AccumulatedFees -= amount
	return nil
}

// FundFeePool adjusts the core-asset fee pool; a negative delta drains it.
func (d *DynamicData) FundFeePool(delta int64) error {
	if d.FeePool+delta < 0 {
		return fmt.Errorf("%w: fee pool %d cannot absorb %d", ErrNegativeAmount, d.FeePool, delta)
	}
	d.FeePool += delta
	return nil
}
