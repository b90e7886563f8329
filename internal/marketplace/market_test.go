package marketplace

import (
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
	"github.com/sand/blue-carbon-registry/backend/internal/projects"
	"github.com/sand/blue-carbon-registry/backend/internal/storage"
)

func newMarket(t *testing.T) (*Market, *projects.Store) {
	t.Helper()

	store := projects.New(slog.Default(), storage.NewMemoryStore(), projects.WithDemoSeed(true))
	require.NoError(t, store.Init())

	m := New(slog.Default(), store, WithPricer(func(int) decimal.Decimal { return decimal.NewFromInt(15) }))
	return m, store
}

func TestMarket_Listings(t *testing.T) {
	m, _ := newMarket(t)

	listings := m.Listings()
	require.Len(t, listings, 2)

	byName := map[string]entities.CreditListing{}
	for _, l := range listings {
		byName[l.ProjectName] = l
	}

	sundarbans := byName["Mangrove Restoration - Sundarbans"]
	assert.Equal(t, 1200, sundarbans.CreditsAvailable)
	assert.Equal(t, 150*30, sundarbans.CarbonSequestration)
	assert.Equal(t, "2024", sundarbans.Vintage)
	assert.Equal(t, "5", sundarbans.PricePerCredit.String())
	assert.Equal(t, "15", sundarbans.PricePerCreditUSD.String())
	assert.Equal(t, "0x5B38Da6a701c568545dCfcB03FcB875f56beddC4", sundarbans.NGOWalletAddress)

	assert.Equal(t, 600, byName["Seagrass Meadow Protection"].CreditsAvailable)
}

func TestMarket_ApprovalCreatesListing(t *testing.T) {
	m, store := newMarket(t)

	_, err := m.Listing(3)
	require.ErrorIs(t, err, ErrListingNotFound)

	_, err = store.Approve(3, "verifier@registry.org")
	require.NoError(t, err)

	listing, err := m.Listing(3)
	require.NoError(t, err)
	assert.Equal(t, 1600, listing.CreditsAvailable)
}

func TestMarket_QuoteAndSale(t *testing.T) {
	m, _ := newMarket(t)

	quote, err := m.Quote(2, 50)
	require.NoError(t, err)
	assert.Equal(t, "250", quote.TotalCost.String())
	assert.Equal(t, "750", quote.TotalCostUSD.String())

	m.RecordSale(2, 590)

	listing, err := m.Listing(2)
	require.NoError(t, err)
	assert.Equal(t, 10, listing.CreditsAvailable)
	assert.Equal(t, 590, listing.CreditsSold)

	_, err = m.Quote(2, 11)
	require.ErrorIs(t, err, ErrInsufficientCredits)

	_, err = m.Quote(2, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = m.Quote(4, 1)
	require.ErrorIs(t, err, ErrListingNotFound)
}

func TestPriceUSD(t *testing.T) {
	low, high := decimal.NewFromInt(10), decimal.NewFromInt(30)
	for id := -5; id < 500; id++ {
		p := PriceUSD(id)
		require.True(t, p.GreaterThanOrEqual(low) && p.LessThan(high), "id %d priced %s", id, p)
		require.True(t, p.Equal(PriceUSD(id)))
	}
}

func TestCheckBalance(t *testing.T) {
	require.NoError(t, CheckBalance(decimal.NewFromInt(5), decimal.NewFromInt(5)))
	require.ErrorIs(t, CheckBalance(decimal.RequireFromString("4.99"), decimal.NewFromInt(5)), ErrInsufficientBalance)
}

func TestTotalCost(t *testing.T) {
	assert.Equal(t, "5.17", TotalCost(1, decimal.RequireFromString("5.17")).String())
	assert.Equal(t, "517", TotalCost(100, decimal.RequireFromString("5.17")).String())
}
