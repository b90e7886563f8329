package wallet

import (
	"errors"
	"strings"
)

var (
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrAddressUnresolved  = errors.New("wallet address could not be resolved")
)

// normalizeError folds every adapter flavour of "not connected" into ErrWalletNotConnected.
// Other errors pass through unchanged.
func normalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrWalletNotConnected) || strings.Contains(strings.ToLower(err.Error()), "not connected") {
		return ErrWalletNotConnected
	}
	return err
}
