// Package address turns the account shapes handed out by wallet adapters into a plain
// address string. Nothing else in the module inspects those shapes.
package address

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// DataCarrier is an adapter value that wraps the raw address in a tagged type.
type DataCarrier interface {
	AddressData() any
}

// Holder is an account object exposing its address.
type Holder interface {
	AccountAddress() any
}

// Account is the account shape most adapters report.
type Account struct {
	Address any `json:"address"`
}

func (a Account) AccountAddress() any { return a.Address }

// Tagged wraps the raw address bytes the way some adapters do.
type Tagged struct {
	Data []byte `json:"data"`
}

func (t Tagged) AddressData() any { return t.Data }

// Normalize returns the address carried by candidate, or "" when there is none.
// Lookup order: tagged data, then an address field, then String(). It never panics.
func Normalize(candidate any) string {
	if isNil(candidate) {
		return ""
	}

	switch v := candidate.(type) {
	case string:
		return v
	case []byte:
		if len(v) == 0 {
			return ""
		}
		return "0x" + hex.EncodeToString(v)
	case common.Address:
		return v.Hex()
	case *common.Address:
		return v.Hex()
	case map[string]any:
		if data, ok := v["data"]; ok && !isNil(data) {
			return Normalize(data)
		}
		if addr, ok := v["address"]; ok && !isNil(addr) {
			return Normalize(addr)
		}
		return ""
	case DataCarrier:
		if data := v.AddressData(); !isNil(data) && !isEmptyBytes(data) {
			return Normalize(data)
		}
		if h, ok := candidate.(Holder); ok {
			return Normalize(h.AccountAddress())
		}
		return stringer(candidate)
	case Holder:
		return Normalize(v.AccountAddress())
	case fmt.Stringer:
		return v.String()
	}

	return ""
}

// Equal compares two addresses after normalisation, ignoring hex letter case.
func Equal(a, b any) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	return strings.EqualFold(na, nb)
}

func stringer(v any) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return ""
}

func isEmptyBytes(v any) bool {
	b, ok := v.([]byte)
	return ok && len(b) == 0
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Interface, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}
