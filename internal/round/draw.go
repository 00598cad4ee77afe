package round

import (
	"crypto/rand"
	"math/big"
)

// secureIntn returns a uniform random int in [0, n) from crypto/rand.
// Question draws must be unpredictable to players, so math/rand is not
// enough here.
func secureIntn(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// Shuffle returns a new slice with ids in cryptographically random order.
func Shuffle(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	for i := len(out) - 1; i > 0; i-- {
		j := secureIntn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
