// Package marketplace turns approved projects into purchasable credit lots.
package marketplace

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
)

var (
	ErrListingNotFound     = errors.New("listing not found")
	ErrInvalidQuantity     = errors.New("credit quantity must be positive")
	ErrInsufficientCredits = errors.New("not enough credits available")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// tonnes of CO2 sequestered per hectare, used for the listing estimate
const sequestrationPerHectare = 30

// nativeDecimals is the precision prices are quoted at in the native coin.
const nativeDecimals = 8

type ProjectSource interface {
	ListByStatus(status entities.ProjectStatus) []entities.Project
}

type Option func(*Market)

// WithUSDPerNative sets the exchange rate used to quote native prices. Default 3.
func WithUSDPerNative(rate decimal.Decimal) Option {
	return func(m *Market) {
		if rate.IsPositive() {
			m.usdPerNative = rate
		}
	}
}

// WithPricer replaces the per-project USD price.
func WithPricer(fn func(projectID int) decimal.Decimal) Option {
	return func(m *Market) { m.priceUSD = fn }
}

type Market struct {
	logger       *slog.Logger
	projects     ProjectSource
	usdPerNative decimal.Decimal
	priceUSD     func(projectID int) decimal.Decimal

	mu   sync.Mutex
	sold map[int]int
}

func New(logger *slog.Logger, projects ProjectSource, opts ...Option) *Market {
	m := &Market{
		logger:       logger,
		projects:     projects,
		usdPerNative: decimal.NewFromInt(3),
		priceUSD:     PriceUSD,
		sold:         make(map[int]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PriceUSD is the default credit price of a project: a stable value in [10, 30).
func PriceUSD(projectID int) decimal.Decimal {
	cents := ((projectID*7919)%2000 + 2000) % 2000
	return decimal.New(int64(1000+cents), -2)
}

// Listings returns every approved project with issued credits as a lot.
func (m *Market) Listings() []entities.CreditListing {
	approved := m.projects.ListByStatus(entities.ProjectApproved)

	m.mu.Lock()
	defer m.mu.Unlock()

	listings := make([]entities.CreditListing, 0, len(approved))
	for _, p := range approved {
		if p.CreditsIssued <= 0 {
			continue
		}
		listings = append(listings, m.listingLocked(p))
	}
	return listings
}

// Listing returns the lot for one project.
func (m *Market) Listing(projectID int) (entities.CreditListing, error) {
	for _, p := range m.projects.ListByStatus(entities.ProjectApproved) {
		if p.ID != projectID || p.CreditsIssued <= 0 {
			continue
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.listingLocked(p), nil
	}
	return entities.CreditListing{}, fmt.Errorf("project %d: %w", projectID, ErrListingNotFound)
}

func (m *Market) listingLocked(p entities.Project) entities.CreditListing {
	usd := m.priceUSD(p.ID)
	sold := m.sold[p.ID]

	var vintage string
	if p.VerificationDate != nil {
		vintage = strconv.Itoa(p.VerificationDate.Year())
	}

	return entities.CreditListing{
		ProjectID:           p.ID,
		ProjectName:         p.Name,
		Organization:        p.Organization,
		Location:            p.Location,
		Hectares:            p.Hectares,
		Methodology:         p.Methodology,
		Vintage:             vintage,
		CreditsAvailable:    max(p.CreditsIssued-sold, 0),
		CreditsSold:         sold,
		PricePerCredit:      usd.DivRound(m.usdPerNative, nativeDecimals),
		PricePerCreditUSD:   usd,
		CarbonSequestration: p.Hectares * sequestrationPerHectare,
		VerificationDate:    p.VerificationDate,
		NGOWalletAddress:    p.NGOWalletAddress,
	}
}

// Quote prices credits from a project's lot.
func (m *Market) Quote(projectID, credits int) (entities.Quote, error) {
	if credits <= 0 {
		return entities.Quote{}, ErrInvalidQuantity
	}

	listing, err := m.Listing(projectID)
	if err != nil {
		return entities.Quote{}, err
	}
	if credits > listing.CreditsAvailable {
		return entities.Quote{}, fmt.Errorf("%d requested, %d available: %w", credits, listing.CreditsAvailable, ErrInsufficientCredits)
	}

	return entities.Quote{
		ProjectID:      projectID,
		Credits:        credits,
		PricePerCredit: listing.PricePerCredit,
		TotalCost:      TotalCost(credits, listing.PricePerCredit),
		TotalCostUSD:   TotalCost(credits, listing.PricePerCreditUSD),
	}, nil
}

// TotalCost is credits times price.
func TotalCost(credits int, price decimal.Decimal) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(credits)))
}

// CheckBalance fails when balance cannot cover total.
func CheckBalance(balance, total decimal.Decimal) error {
	if balance.LessThan(total) {
		return fmt.Errorf("need %s, have %s: %w", total.StringFixed(4), balance.StringFixed(4), ErrInsufficientBalance)
	}
	return nil
}

// RecordSale reduces a lot after a completed purchase.
func (m *Market) RecordSale(projectID, credits int) {
	m.mu.Lock()
	m.sold[projectID] += credits
	m.mu.Unlock()

	m.logger.Info("Credits sold", "project_id", projectID, "credits", credits)
}
