// Package chain talks to the EVM network: balances, confirmations, signing wallets and pool views.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

var (
	ErrContractNotDeployed = errors.New("contract not deployed")
	ErrTransactionFailed   = errors.New("transaction reverted")
	ErrSigningUnavailable  = errors.New("wallet cannot sign transactions")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrInvalidHash         = errors.New("invalid transaction hash")
	ErrNoBackend           = errors.New("chain RPC not configured")
)

// Backend is the subset of ethclient.Client the package uses.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type Option func(*Client)

// WithPollInterval sets how often WaitForTransaction asks for a receipt.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithFallbackBalance sets the balance reported when the RPC cannot answer.
func WithFallbackBalance(amount decimal.Decimal) Option {
	return func(c *Client) { c.fallbackBalance = amount }
}

type Client struct {
	logger  *slog.Logger
	backend Backend
	closer  func()

	pollInterval    time.Duration
	fallbackBalance decimal.Decimal
}

func NewClient(logger *slog.Logger, backend Backend, opts ...Option) *Client {
	c := &Client{
		logger:          logger,
		backend:         backend,
		pollInterval:    3 * time.Second,
		fallbackBalance: decimal.NewFromInt(5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to rpcURL.
func Dial(ctx context.Context, logger *slog.Logger, rpcURL string, opts ...Option) (*Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum client: %w", err)
	}

	logger.Info("Connected to chain RPC", "rpc_url", rpcURL)

	c := NewClient(logger, client, opts...)
	c.closer = client.Close
	return c, nil
}

// Backend exposes the RPC backend for wallets and pool readers sharing the connection.
func (c *Client) Backend() Backend {
	return c.backend
}

func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func parseAddress(addr string) (common.Address, error) {
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	return common.HexToAddress(addr), nil
}

func parseHash(hash string) (common.Hash, error) {
	if !strings.HasPrefix(hash, "0x") || len(hash) != 66 {
		return common.Hash{}, fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	b, err := hexutil.Decode(hash)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return common.BytesToHash(b), nil
}

// Balance returns the native balance of addr.
func (c *Client) Balance(ctx context.Context, addr string) (decimal.Decimal, error) {
	account, err := parseAddress(addr)
	if err != nil {
		return decimal.Zero, err
	}

	if c.backend == nil {
		return decimal.Zero, ErrNoBackend
	}
	wei, err := c.backend.BalanceAt(ctx, account, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance: %w", err)
	}
	return FromWei(wei), nil
}

// BalanceOrFallback returns the balance, or the configured fallback when the chain is unreachable.
func (c *Client) BalanceOrFallback(ctx context.Context, addr string) decimal.Decimal {
	balance, err := c.Balance(ctx, addr)
	if err != nil {
		c.logger.Error("Failed to fetch balance, using fallback", "address", addr, "fallback", c.fallbackBalance.String(), "error", err)
		return c.fallbackBalance
	}
	return balance
}

// WaitForTransaction polls for the receipt of hash until it is mined or ctx is done.
// A reverted receipt yields ErrTransactionFailed.
func (c *Client) WaitForTransaction(ctx context.Context, hash string) error {
	txHash, err := parseHash(hash)
	if err != nil {
		return err
	}
	if c.backend == nil {
		return ErrNoBackend
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return fmt.Errorf("%w: %s", ErrTransactionFailed, hash)
			}
			c.logger.Info("Transaction confirmed", "tx_hash", hash, "block", receipt.BlockNumber, "gas_used", receipt.GasUsed)
			return nil
		case errors.Is(err, ethereum.NotFound):
			c.logger.Debug("Waiting for transaction receipt", "tx_hash", hash)
		default:
			c.logger.Warn("Failed to get transaction receipt", "tx_hash", hash, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// CodeDeployed reports whether a contract exists at addr.
func (c *Client) CodeDeployed(ctx context.Context, addr string) (bool, error) {
	account, err := parseAddress(addr)
	if err != nil {
		return false, err
	}

	if c.backend == nil {
		return false, ErrNoBackend
	}
	code, err := c.backend.CodeAt(ctx, account, nil)
	if err != nil {
		return false, fmt.Errorf("failed to get contract code: %w", err)
	}
	return len(code) > 0, nil
}
