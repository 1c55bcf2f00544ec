package domain

import "errors"

var (
	// ErrDuplicateSymbol is returned when an asset symbol is already registered.
	ErrDuplicateSymbol = errors.New("duplicate asset symbol")

	// ErrInvalidSymbol is returned when a symbol does not follow the ticker grammar.
	ErrInvalidSymbol = errors.New("invalid asset symbol")

	// ErrSupplyExceedsMax is returned when a supply change would breach max_supply.
	ErrSupplyExceedsMax = errors.New("supply exceeds max supply")

	// ErrNegativeAmount is returned when a counter would drop below zero or an input amount is negative.
	ErrNegativeAmount = errors.New("negative amount")

	// ErrInvalidAssetOptions is returned when asset options violate an invariant.
	ErrInvalidAssetOptions = errors.New("invalid asset options")

	// ErrNotMarketIssued is returned when a bitasset-only operation targets a plain asset.
	ErrNotMarketIssued = errors.New("asset is not market issued")

	// ErrAlreadySettled is returned when an operation is attempted after global settlement.
	ErrAlreadySettled = errors.New("asset already globally settled")

	// ErrNotSettled is returned when a settlement-fund operation is attempted before global settlement.
	ErrNotSettled = errors.New("asset is not globally settled")

	// ErrPriceExceedsCap is returned when a prediction market settles above 1:1.
	ErrPriceExceedsCap = errors.New("settlement price exceeds prediction market cap")

	// ErrInvalidPrice is returned for a null price or a price quoting the wrong assets.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrNoPriceFeed is returned when a bitasset has no usable current feed.
	ErrNoPriceFeed = errors.New("no current price feed")

	// ErrForceSettleDisabled is returned when force settlement is not allowed for the asset.
	ErrForceSettleDisabled = errors.New("force settlement disabled")

	// ErrGlobalSettleDisabled is returned when the asset lacks the global settle permission.
	ErrGlobalSettleDisabled = errors.New("global settlement not permitted")

	// ErrExceedsSettlementBudget is returned when a force settlement would exceed the interval cap.
	ErrExceedsSettlementBudget = errors.New("force settlement exceeds interval budget")

	// ErrInsufficientSettlementFund is returned when the settlement fund cannot cover a request.
	ErrInsufficientSettlementFund = errors.New("insufficient settlement fund")

	// ErrInvalidAmountFormat is returned when a decimal amount string is malformed.
	ErrInvalidAmountFormat = errors.New("invalid amount format")

	// ErrNotFound is returned when a lookup misses.
	ErrNotFound = errors.New("not found")

	// ErrReferenceIntegrityViolation is returned when deleting an asset that is still referenced.
	ErrReferenceIntegrityViolation = errors.New("asset is still referenced")

	// ErrProtectedField is returned when a generic update touches a field owned by another transition.
	ErrProtectedField = errors.New("protected field modified")
)
