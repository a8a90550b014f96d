// Package unsafehelpers centralises every unavoidable use of the `unsafe`
// standard-library package so the rest of PrisKV stays clean and auditable.
//
// DISCLAIMER: these helpers deliberately break the Go memory-safety model
// for zero-allocation conversions. Use only inside this repository.
//
// © 2025 PrisKV authors. Apache License 2.0.
package unsafehelpers

import "unsafe"

// BytesToString converts a byte slice to a string without allocating. The
// caller must guarantee b is never modified for the lifetime of the
// returned string. Used by internal/kv to look a request key up in its
// index map without copying it.
func BytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// StringToBytes re-interprets string data as a byte slice without copying.
// The returned slice MUST remain read-only.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// AlignUp rounds x up to the nearest multiple of align, which must be a
// power of two.
func AlignUp(x, align uint64) uint64 {
	return (x + align - 1) &^ (align - 1)
}

// IsPowerOfTwo returns true if x is a power of two (exactly one bit set).
func IsPowerOfTwo(x uint64) bool {
	return x != 0 && (x&(x-1)) == 0
}
