package store

import (
	"fmt"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// HashBytes returns the hex xxhash of data. It is the content hash stored per
// file and compared on startup.
func HashBytes(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// HashFile hashes the file at path.
func HashFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return HashBytes(data), nil
}

// CombineHashes computes a deterministic hash over named hashes. Names are
// sorted, so map order does not matter.
func CombineHashes(hashes map[string]string) string {
	names := make([]string, 0, len(hashes))
	for n := range hashes {
		names = append(names, n)
	}
	sort.Strings(names)

	h := xxhash.New()
	for _, n := range names {
		fmt.Fprintf(h, "%s:%s\n", n, hashes[n])
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
