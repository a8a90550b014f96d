package protocol

import "github.com/DwyaneShi/priskv/pkg/sgl"

// Opcode identifies the operation a Request carries, per §6's wire
// protocol surface.
type Opcode uint8

const (
	OpGet Opcode = iota
	OpSet
	OpDel
	OpTest
	OpExpire
)

func (o Opcode) String() string {
	switch o {
	case OpGet:
		return "GET"
	case OpSet:
		return "SET"
	case OpDel:
		return "DEL"
	case OpTest:
		return "TEST"
	case OpExpire:
		return "EXPIRE"
	default:
		return "UNKNOWN"
	}
}

// Request is the transport-agnostic decoded form of one pipeline
// request, abstracted from the actual RDMA wire framing per §6.
type Request struct {
	Opcode        Opcode
	Flags         uint8
	Key           []byte
	TimeoutNanos  uint64
	CorrelationID uint64
	SGL           sgl.List
}

// Response is the transport-agnostic decoded form of one pipeline
// response.
type Response struct {
	CorrelationID uint64
	Status        Status
	ValueLength   uint64
}
