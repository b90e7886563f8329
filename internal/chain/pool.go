package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/sand/blue-carbon-registry/backend/internal/entities"
)

const poolABI = `[
	{"name":"getPoolInfo","type":"function","stateMutability":"view","inputs":[],
	 "outputs":[{"name":"carbonTokenReserve","type":"uint256"},{"name":"nativeReserve","type":"uint256"},
	            {"name":"totalLiquidity","type":"uint256"},{"name":"pricePerToken","type":"uint256"}]},
	{"name":"calculateTokensOut","type":"function","stateMutability":"view",
	 "inputs":[{"name":"nativeIn","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"calculateNativeIn","type":"function","stateMutability":"view",
	 "inputs":[{"name":"tokensOut","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

// Demo values reported while no pool contract is reachable.
var (
	mockCarbonReserve = decimal.NewFromInt(1_000_000)
	mockNativeReserve = decimal.NewFromInt(100_000)
	mockLiquidity     = decimal.NewFromInt(1_100_000)
	mockPricePerToken = decimal.NewFromInt(1)
	mockCarbonBalance = decimal.NewFromInt(100)
)

// PoolReader queries the carbon token liquidity pool. Every query falls back to
// demo values when the contract is missing or the RPC fails.
type PoolReader struct {
	logger   *slog.Logger
	backend  Backend
	contract *common.Address
	abi      abi.ABI
}

// NewPoolReader binds to the pool at contract. An empty contract means no pool is deployed.
func NewPoolReader(logger *slog.Logger, backend Backend, contract string) (*PoolReader, error) {
	parsed, err := abi.JSON(strings.NewReader(poolABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool ABI: %w", err)
	}

	r := &PoolReader{logger: logger, backend: backend, abi: parsed}
	if contract != "" {
		addr, err := parseAddress(contract)
		if err != nil {
			return nil, err
		}
		r.contract = &addr
	}
	return r, nil
}

func (r *PoolReader) call(ctx context.Context, method string, args ...any) ([]any, error) {
	if r.contract == nil || r.backend == nil {
		return nil, ErrContractNotDeployed
	}

	code, err := r.backend.CodeAt(ctx, *r.contract, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get contract code: %w", err)
	}
	if len(code) == 0 {
		return nil, ErrContractNotDeployed
	}

	data, err := r.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: r.contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}

	values, err := r.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	return values, nil
}

func (r *PoolReader) fallback(method string, err error) {
	if errors.Is(err, ErrContractNotDeployed) {
		r.logger.Warn("Pool contract not deployed, using mock data", "method", method)
		return
	}
	r.logger.Error("Pool query failed, using mock data", "method", method, "error", err)
}

func amountAt(values []any, i int) (decimal.Decimal, error) {
	if i >= len(values) {
		return decimal.Zero, fmt.Errorf("missing output %d", i)
	}
	v, ok := values[i].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("unexpected output type %T", values[i])
	}
	return FromWei(v), nil
}

// PoolInfo returns reserves, liquidity and the current token price.
func (r *PoolReader) PoolInfo(ctx context.Context) entities.PoolInfo {
	mock := entities.PoolInfo{
		CarbonTokenReserve: mockCarbonReserve,
		NativeReserve:      mockNativeReserve,
		TotalLiquidity:     mockLiquidity,
		PricePerToken:      mockPricePerToken,
		Simulated:          true,
	}

	values, err := r.call(ctx, "getPoolInfo")
	if err != nil {
		r.fallback("getPoolInfo", err)
		return mock
	}

	var info entities.PoolInfo
	fields := []*decimal.Decimal{&info.CarbonTokenReserve, &info.NativeReserve, &info.TotalLiquidity, &info.PricePerToken}
	for i, field := range fields {
		if *field, err = amountAt(values, i); err != nil {
			r.fallback("getPoolInfo", err)
			return mock
		}
	}
	return info
}

// TokensOut returns the carbon tokens bought by nativeIn. The fallback rate is 1:1.
func (r *PoolReader) TokensOut(ctx context.Context, nativeIn decimal.Decimal) decimal.Decimal {
	values, err := r.call(ctx, "calculateTokensOut", ToWei(nativeIn))
	if err == nil {
		var out decimal.Decimal
		if out, err = amountAt(values, 0); err == nil {
			return out
		}
	}
	r.fallback("calculateTokensOut", err)
	return nativeIn
}

// NativeIn returns the native amount needed to buy tokens. The fallback rate is 1:1.
func (r *PoolReader) NativeIn(ctx context.Context, tokens decimal.Decimal) decimal.Decimal {
	values, err := r.call(ctx, "calculateNativeIn", ToWei(tokens))
	if err == nil {
		var in decimal.Decimal
		if in, err = amountAt(values, 0); err == nil {
			return in
		}
	}
	r.fallback("calculateNativeIn", err)
	return tokens
}

// CarbonTokenBalance returns the carbon token balance of owner, zero for an empty owner.
func (r *PoolReader) CarbonTokenBalance(ctx context.Context, owner string) decimal.Decimal {
	if owner == "" {
		return decimal.Zero
	}

	account, err := parseAddress(owner)
	if err == nil {
		var values []any
		if values, err = r.call(ctx, "balanceOf", account); err == nil {
			var balance decimal.Decimal
			if balance, err = amountAt(values, 0); err == nil {
				return balance
			}
		}
	}
	r.fallback("balanceOf", err)
	return mockCarbonBalance
}
