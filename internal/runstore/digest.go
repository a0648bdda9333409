package runstore

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// DigestBytes returns the lowercase hex BLAKE3 digest of a program
// copy. Recorded at submit; the worker refuses a run whose copy no
// longer matches.
func DigestBytes(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}
