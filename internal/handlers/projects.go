package handlers

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
)

type ProjectService interface {
	Add(draft entities.ProjectDraft, submittedBy string) (entities.Project, error)
	Approve(id int, verifiedBy string) (entities.Project, error)
	Reject(id int, verifiedBy, reason string) (entities.Project, error)
	Get(id int) (entities.Project, error)
	List() []entities.Project
	ListByStatus(status entities.ProjectStatus) []entities.Project
	ListByOrganization(organization string) []entities.Project
	Statistics() entities.ProjectStatistics
}

type Marketplace interface {
	Listings() []entities.CreditListing
	Listing(projectID int) (entities.CreditListing, error)
	Quote(projectID, credits int) (entities.Quote, error)
	RecordSale(projectID, credits int)
}

type PoolService interface {
	PoolInfo(ctx context.Context) entities.PoolInfo
	TokensOut(ctx context.Context, nativeIn decimal.Decimal) decimal.Decimal
	NativeIn(ctx context.Context, tokens decimal.Decimal) decimal.Decimal
	CarbonTokenBalance(ctx context.Context, owner string) decimal.Decimal
}
