package journal

import (
	"crypto/rand"
	"encoding/hex"
	mrand "math/rand/v2"
	"strconv"
	"strings"
	"time"
)

// SimulatedMarker is embedded in every locally generated hash of a simulated transfer.
const SimulatedMarker = "51m"

const hashLength = 66

// pseudoHash builds a 0x-prefixed hash from the creation time and random bytes.
func pseudoHash(now time.Time, simulated bool) string {
	var b strings.Builder
	b.WriteString("0x")
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 16))
	if simulated {
		b.WriteString(SimulatedMarker)
	}

	random := make([]byte, 32)
	_, _ = rand.Read(random)
	b.WriteString(hex.EncodeToString(random))

	return b.String()[:hashLength]
}

// IsSimulatedHash reports whether hash was generated for a simulated transfer.
func IsSimulatedHash(hash string) bool {
	return strings.Contains(hash, SimulatedMarker)
}

func mockBlockNumber() int64 {
	return 1_000_000 + mrand.Int64N(1_000_000)
}

func mockGasUsed() int64 {
	return 50_000 + mrand.Int64N(100_000)
}

func explorerURL(base, hash, network string) string {
	return strings.TrimRight(base, "/") + "/tx/" + hash + "?network=" + network
}
