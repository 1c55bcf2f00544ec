package feed

import (
	"github.com/samber/lo"

	"github.com/mtlprog/chainstate/internal/domain"
)

// PublisherSet decides whose feeds count towards an asset's median.
type PublisherSet interface {
	IsAuthorized(asset domain.AssetRecord, publisher domain.AccountID) bool
}

// StaticPublishers authorizes a fixed set of accounts for every asset.
type StaticPublishers map[domain.AccountID]struct{}

// NewStaticPublishers builds a StaticPublishers from a list of accounts.
func NewStaticPublishers(accounts ...domain.AccountID) StaticPublishers {
	return lo.SliceToMap(accounts, func(a domain.AccountID) (domain.AccountID, struct{}) {
		return a, struct{}{}
	})
}

func (p StaticPublishers) IsAuthorized(_ domain.AssetRecord, publisher domain.AccountID) bool {
	_, ok := p[publisher]
	return ok
}

// PublisherFunc adapts a function to PublisherSet.
type PublisherFunc func(asset domain.AssetRecord, publisher domain.AccountID) bool

func (f PublisherFunc) IsAuthorized(asset domain.AssetRecord, publisher domain.AccountID) bool {
	return f(asset, publisher)
}
