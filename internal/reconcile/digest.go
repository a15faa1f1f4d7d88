package reconcile

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// Digest returns the BLAKE2b-256 digest used to compare file contents.
func Digest(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// DigestFile streams a file through BLAKE2b-256.
func DigestFile(path string) ([32]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, 0, err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return [32]byte{}, 0, fmt.Errorf("init blake2b: %w", err)
	}
	n, err := io.Copy(h, f)
	if err != nil {
		return [32]byte{}, 0, fmt.Errorf("hash %s: %w", path, err)
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, n, nil
}
