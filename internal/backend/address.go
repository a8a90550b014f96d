package backend

import (
	"strconv"
	"strings"
)

// parseByteBudget reads the "&size=<bytes>" suffix the address grammar's
// glossary hints at ("localfs:/data/priskv&size=100GB&evict=lru"). Only
// the size suffix is implemented; other suffixes are ignored. An address
// with no "&size=" suffix means no budget (always cacheable).
func parseByteBudget(address string) (uint64, error) {
	_, opts, found := strings.Cut(address, "&")
	if !found {
		return 0, nil
	}

	for _, opt := range strings.Split(opts, "&") {
		k, v, ok := strings.Cut(opt, "=")
		if !ok || k != "size" {
			continue
		}
		return strconv.ParseUint(v, 10, 64)
	}
	return 0, nil
}

// basePath strips any "&key=value" option suffix, returning the bare
// filesystem path portion of an address.
func basePath(address string) string {
	path, _, _ := strings.Cut(address, "&")
	return path
}
