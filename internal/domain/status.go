package domain

// Status is a transaction lifecycle state. The numeric values are on the
// wire; do not renumber.
type Status int

const (
	StatusCreated       Status = 0
	StatusInitialized   Status = 1
	StatusAccepted      Status = 2
	StatusFinished      Status = 4
	StatusRejected      Status = 5
	StatusCanceled      Status = 6
	StatusFailed        Status = 7
	StatusCloudUploaded Status = 8
	StatusGhostUploaded Status = 9
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusInitialized:
		return "initialized"
	case StatusAccepted:
		return "accepted"
	case StatusFinished:
		return "finished"
	case StatusRejected:
		return "rejected"
	case StatusCanceled:
		return "canceled"
	case StatusFailed:
		return "failed"
	case StatusCloudUploaded:
		return "cloud_uploaded"
	case StatusGhostUploaded:
		return "ghost_uploaded"
	}
	return "unknown"
}

// FinalStatuses are terminal: no transition leaves them.
var FinalStatuses = []Status{
	StatusFinished,
	StatusRejected,
	StatusCanceled,
	StatusFailed,
	StatusGhostUploaded,
}

func (s Status) Final() bool {
	for _, f := range FinalStatuses {
		if s == f {
			return true
		}
	}
	return false
}

// transitions lists, per current status, the statuses each side may move to.
var transitions = map[Status]map[bool][]Status{
	StatusCreated: {
		true:  {StatusInitialized, StatusCanceled, StatusFailed},
		false: {},
	},
	StatusInitialized: {
		true:  {StatusCanceled, StatusFailed, StatusFinished, StatusGhostUploaded},
		false: {StatusAccepted, StatusRejected, StatusCanceled, StatusFailed},
	},
	StatusAccepted: {
		true:  {StatusCanceled, StatusFailed, StatusGhostUploaded},
		false: {StatusAccepted, StatusFinished, StatusCanceled, StatusFailed},
	},
	StatusCloudUploaded: {
		true:  {},
		false: {StatusFinished, StatusCanceled, StatusFailed},
	},
}

// CanTransition reports whether the sender (isSender) or the recipient may
// move a transaction from cur to next.
func CanTransition(cur, next Status, isSender bool) bool {
	side, ok := transitions[cur]
	if !ok {
		return false
	}
	for _, s := range side[isSender] {
		if s == next {
			return true
		}
	}
	return false
}
