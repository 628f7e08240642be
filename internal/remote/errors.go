package remote

import (
	"errors"
	"fmt"
)

// Kind classifies a remote failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindUnauthorized
	KindConflict
	KindRateLimited
	KindNetwork
	KindMalformedResponse
	KindMalformedData
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindUnauthorized:
		return "unauthorized"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate limited"
	case KindNetwork:
		return "network failure"
	case KindMalformedResponse:
		return "malformed response"
	case KindMalformedData:
		return "malformed data"
	default:
		return "unexpected response"
	}
}

// Sentinels matched by *Error through errors.Is:
//
//	if errors.Is(err, remote.ErrNotFound) {
//	    // first sync, nothing stored yet
//	}
var (
	// ErrNotFound means the remote resource does not exist yet.
	ErrNotFound = errors.New("remote resource not found")

	// ErrUnauthorized means the credential was missing or rejected.
	ErrUnauthorized = errors.New("remote rejected credentials")

	// ErrConflict means the revision token was missing or stale.
	ErrConflict = errors.New("remote changed since last fetch")

	// ErrRateLimited means the remote is throttling requests.
	ErrRateLimited = errors.New("remote rate limit exceeded")

	// ErrNetwork means the remote could not be reached.
	ErrNetwork = errors.New("remote unreachable")

	// ErrMalformedResponse means the API response did not parse.
	ErrMalformedResponse = errors.New("malformed remote response")

	// ErrMalformedData means the stored blob did not decode.
	ErrMalformedData = errors.New("malformed remote data")

	// ErrUnknownBackend is returned for a backend type nobody registered.
	ErrUnknownBackend = errors.New("unknown remote backend")

	// ErrInvalidLocator is returned when a locator cannot be parsed.
	ErrInvalidLocator = errors.New("invalid remote locator")
)

var kindSentinels = map[Kind]error{
	KindNotFound:          ErrNotFound,
	KindUnauthorized:      ErrUnauthorized,
	KindConflict:          ErrConflict,
	KindRateLimited:       ErrRateLimited,
	KindNetwork:           ErrNetwork,
	KindMalformedResponse: ErrMalformedResponse,
	KindMalformedData:     ErrMalformedData,
}

// Error is a classified remote failure.
type Error struct {
	Kind    Kind
	Backend Type

	// Status is the HTTP status, or 0 when none applies.
	Status int

	// Message is the remote's own explanation, if it gave one.
	Message string

	Err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Backend, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// NewError builds an *Error.
func NewError(backend Type, kind Kind, status int, message string, err error) *Error {
	return &Error{Kind: kind, Backend: backend, Status: status, Message: message, Err: err}
}

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// IsRejected returns true if the remote answered but refused the request:
// bad credentials, a stale revision, or throttling.
func IsRejected(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindUnauthorized, KindConflict, KindRateLimited:
		return true
	}
	return false
}

// IsUnavailable returns true if the remote could not be reached at all.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrNetwork)
}

// IsMalformed returns true for responses or blobs that did not parse.
func IsMalformed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrMalformedResponse) || errors.Is(err, ErrMalformedData)
}
