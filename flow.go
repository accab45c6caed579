package avpipe

// Flow is the discrete outcome of a processing step. Elements report flow
// outcomes instead of raising errors for expected conditions like "no data
// queued yet" or "all inputs finished".
type Flow int

const (
	FlowOK       Flow = iota // Data was produced/consumed
	FlowNeedData             // More input is required before progress is possible
	FlowEOS                  // All inputs reached end-of-stream, terminal
	FlowFlushing             // The operation was cancelled by a flush
	FlowError                // Fatal element error
)

func (f Flow) String() string {
	switch f {
	case FlowOK:
		return "ok"
	case FlowNeedData:
		return "need-data"
	case FlowEOS:
		return "eos"
	case FlowFlushing:
		return "flushing"
	case FlowError:
		return "error"
	default:
		return "unknown"
	}
}
