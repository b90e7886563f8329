package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/sand/blue-carbon-registry/backend/internal/address"
	"github.com/sand/blue-carbon-registry/backend/internal/entities"
)

// nativeTransferGas is the fixed gas cost of a plain value transfer.
const nativeTransferGas = 21000

// KeyWallet signs native transfers with a key derived from a seed phrase.
type KeyWallet struct {
	logger  *slog.Logger
	backend Backend
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeyWallet derives m/44'/60'/0'/0/index from mnemonic.
func NewKeyWallet(logger *slog.Logger, backend Backend, mnemonic string, index uint32) (*KeyWallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		logger.Warn("Wallet seed is not a valid BIP-39 mnemonic, deriving anyway")
	}

	key, err := deriveKey(mnemonic, index)
	if err != nil {
		return nil, err
	}

	w := &KeyWallet{
		logger:  logger,
		backend: backend,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
	logger.Info("Signing wallet ready", "address", w.address.Hex(), "index", index)
	return w, nil
}

func deriveKey(mnemonic string, index uint32) (*ecdsa.PrivateKey, error) {
	masterKey, err := bip32.NewMasterKey(bip39.NewSeed(mnemonic, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}

	path := []uint32{
		bip32.FirstHardenedChild + 44,
		bip32.FirstHardenedChild + 60,
		bip32.FirstHardenedChild,
		0,
		index,
	}

	key := masterKey
	for _, child := range path {
		if key, err = key.NewChildKey(child); err != nil {
			return nil, fmt.Errorf("failed to derive child key: %w", err)
		}
	}

	privateKey, err := crypto.ToECDSA(key.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to convert private key: %w", err)
	}
	return privateKey, nil
}

func (w *KeyWallet) Connected() bool { return true }

func (w *KeyWallet) Account() any { return w.address }

// SignAndSubmitTransaction signs a native transfer (EIP-155) and broadcasts it.
func (w *KeyWallet) SignAndSubmitTransaction(ctx context.Context, payload entities.TransferPayload) (entities.SubmitResult, error) {
	if payload.Sender != "" && !address.Equal(payload.Sender, w.address) {
		return entities.SubmitResult{}, fmt.Errorf("%w: wallet %s cannot sign for %s", ErrInvalidAddress, w.address.Hex(), payload.Sender)
	}

	to, err := parseAddress(payload.To)
	if err != nil {
		return entities.SubmitResult{}, err
	}
	if payload.Amount.IsNegative() {
		return entities.SubmitResult{}, fmt.Errorf("negative transfer amount %s", payload.Amount)
	}

	nonce, err := w.backend.PendingNonceAt(ctx, w.address)
	if err != nil {
		return entities.SubmitResult{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := w.backend.SuggestGasPrice(ctx)
	if err != nil {
		return entities.SubmitResult{}, fmt.Errorf("failed to get gas price: %w", err)
	}

	chainID, err := w.backend.ChainID(ctx)
	if err != nil {
		return entities.SubmitResult{}, fmt.Errorf("failed to get chain ID: %w", err)
	}

	tx := types.NewTransaction(nonce, to, ToWei(payload.Amount), nativeTransferGas, gasPrice, nil)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), w.key)
	if err != nil {
		return entities.SubmitResult{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err = w.backend.SendTransaction(ctx, signedTx); err != nil {
		return entities.SubmitResult{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	hash := signedTx.Hash().Hex()
	w.logger.Info("Transaction sent",
		"from", w.address.Hex(),
		"to", to.Hex(),
		"amount", payload.Amount.String(),
		"tx_hash", hash)

	return entities.SubmitResult{Hash: hash}, nil
}
