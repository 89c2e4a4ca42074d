package exchange

import (
	"fmt"
)

// ReasonExchangeFailed is the Reason carried by every Error
const ReasonExchangeFailed = "exchange_failed"

// Error reports a failed token exchange. Status is the identity provider's
// HTTP status, or 0 when the request never got a response.
type Error struct {
	Reason string
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Reason, e.Status, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func failed(status int, detail string, err error) *Error {
	return &Error{
		Reason: ReasonExchangeFailed,
		Status: status,
		Detail: detail,
		Err:    err,
	}
}
