package entities

import "github.com/shopspring/decimal"

// PoolInfo is the liquidity pool state used for swap pricing.
type PoolInfo struct {
	CarbonTokenReserve decimal.Decimal `json:"carbonTokenReserve"`
	NativeReserve      decimal.Decimal `json:"nativeReserve"`
	TotalLiquidity     decimal.Decimal `json:"totalLiquidity"`
	PricePerToken      decimal.Decimal `json:"pricePerToken"`
	Simulated          bool            `json:"simulated"`
}
