// Package protocol defines the request/response types and session state
// machine the request pipeline (C10) drives, independent of any concrete
// wire transport.
//
// © 2025 PrisKV authors. Apache License 2.0.
package protocol

// Status is the end-to-end result code every operation surfaces to its
// caller, mirroring §7's error-kind taxonomy.
type Status uint8

const (
	// StatusOK indicates success.
	StatusOK Status = iota
	// StatusNotFound indicates the key is absent at all tiers.
	StatusNotFound
	// StatusValueTooBig indicates the value exceeds the caller's SGL
	// capacity (GET) or the server's configured maximum (SET).
	StatusValueTooBig
	// StatusNoSpace indicates the buddy allocator is exhausted and
	// eviction could not free enough contiguous space.
	StatusNoSpace
	// StatusTimeout indicates the entry expired (GET) or a backend
	// operation did not complete before its deadline.
	StatusTimeout
	// StatusError indicates a driver-internal or transport-internal
	// failure, including backend address parse errors.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusValueTooBig:
		return "VALUE_TOO_BIG"
	case StatusNoSpace:
		return "NO_SPACE"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
