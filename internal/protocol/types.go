package protocol

const (
	BeginMarker = "begin_data_prefix"
	EndMarker   = "end_data_postfix"
	Separator   = "\n\r"
)

// Limits constrains decoder memory use.
type Limits struct {
	MaxMessageBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxMessageBytes: 64 * 1024 * 1024,
	}
}

// Status discriminates the outcome of feeding one frame.
type Status int

const (
	StatusPending Status = iota
	StatusReady
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result is the outcome of one Feed call. Message is set only for StatusReady,
// Err only for StatusRejected.
type Result struct {
	Status  Status
	Message []byte
	Err     error
}

func (r Result) Ready() bool {
	return r.Status == StatusReady
}

func (r Result) Rejected() bool {
	return r.Status == StatusRejected
}

func pending() Result {
	return Result{Status: StatusPending}
}

func ready(msg []byte) Result {
	return Result{Status: StatusReady, Message: msg}
}

func rejected(err error) Result {
	return Result{Status: StatusRejected, Err: err}
}
