package tagstore

// ResponseKind distinguishes the shapes Execute can return, matching
// spec.md §6's response taxonomy: an ingest acknowledgement, an ordered
// list of matching event ids, an ordered list of opaque event blobs, or
// a structured error.
type ResponseKind uint8

const (
	RespAck ResponseKind = iota
	RespIDs
	RespBlobs
	RespError
)

// Response is Execute's uniform return value. Only the field matching
// Kind is populated.
type Response struct {
	Kind ResponseKind

	// EventID is set on RespAck for event commands (zero for index
	// commands, which acknowledge without allocating an id).
	EventID uint32

	// IDs is set on RespIDs: the matching event ids, already truncated to
	// the command's take limit.
	IDs []uint32

	// Blobs is set on RespBlobs: one opaque event body per requested id,
	// in request order.
	Blobs [][]byte

	// Err is set on RespError.
	Err error
}
