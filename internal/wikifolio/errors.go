package wikifolio

import (
	"errors"
	"fmt"
)

// ErrInvalidOrder is wrapped by order parameter validation failures.
var ErrInvalidOrder = errors.New("invalid order")

// MissingCredentialsError is returned when a login is needed but no email or
// password is configured.
type MissingCredentialsError struct{}

func (e *MissingCredentialsError) Error() string {
	return "wikifolio: email and password are required to log in"
}

// LoginFailedError is returned when the login handshake did not produce a
// session.
type LoginFailedError struct {
	Reason string
	Err    error
}

func (e *LoginFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wikifolio: login failed: %s: %v", e.Reason, e.Err)
	}
	return "wikifolio: login failed: " + e.Reason
}

func (e *LoginFailedError) Unwrap() error { return e.Err }

// AuthorizationDeniedError is returned when an API endpoint rejects the
// session cookie.
type AuthorizationDeniedError struct {
	Target  string
	Message string
}

func (e *AuthorizationDeniedError) Error() string {
	return fmt.Sprintf("wikifolio: %s: %s", e.Target, e.Message)
}

// InvalidResponseError is returned when an API body is not JSON or a page is
// missing the data it is expected to carry.
type InvalidResponseError struct {
	Target string
	Reason string
	Err    error
}

func (e *InvalidResponseError) Error() string {
	msg := "wikifolio: invalid response from " + e.Target
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidResponseError) Unwrap() error { return e.Err }

// MissingIdentifierError is returned when an operation needs an identifier
// the entity does not have and cannot load.
type MissingIdentifierError struct {
	Kind  string // wikifolio | user | order
	Field string
}

func (e *MissingIdentifierError) Error() string {
	return fmt.Sprintf("wikifolio: %s has no %s", e.Kind, e.Field)
}

// OrderRejectedError carries the platform's reason for refusing an order.
type OrderRejectedError struct {
	Reason string
}

func (e *OrderRejectedError) Error() string {
	if e.Reason == "" {
		return "wikifolio: order rejected"
	}
	return "wikifolio: order rejected: " + e.Reason
}

// QuoteNegotiationError is returned when the quote stream fails or reports an
// error before a quote id arrives.
type QuoteNegotiationError struct {
	Stage   string // negotiate | connect | start | subscribe | quote | stream | wait
	Message string
	Err     error
}

func (e *QuoteNegotiationError) Error() string {
	msg := "wikifolio: quote negotiation failed at " + e.Stage
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *QuoteNegotiationError) Unwrap() error { return e.Err }

// OrderOutcomeUnknownError is returned when the placement request may have
// reached the platform but no answer was read. The order might exist;
// placing it again could duplicate it.
type OrderOutcomeUnknownError struct {
	Wikifolio string
	ISIN      string
	Err       error
}

func (e *OrderOutcomeUnknownError) Error() string {
	return fmt.Sprintf("wikifolio: outcome of %s order on %s unknown: %v", e.ISIN, e.Wikifolio, e.Err)
}

func (e *OrderOutcomeUnknownError) Unwrap() error { return e.Err }

// OwnershipError is returned for trading operations on a wikifolio the
// session's user does not own.
type OwnershipError struct {
	Wikifolio string
	Action    string
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("wikifolio: cannot %s on %s: not owned by the logged-in user", e.Action, e.Wikifolio)
}

// HTTPStatusError is a 4xx response from the platform.
type HTTPStatusError struct {
	Status int
	Body   []byte
}

func (e *HTTPStatusError) Error() string {
	body := string(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("wikifolio returned %d: %s", e.Status, body)
}

// Permanent reports whether retrying the same call cannot succeed. Consumers
// use it to decide between dropping and requeueing a command.
func Permanent(err error) bool {
	var (
		rejected   *OrderRejectedError
		ownership  *OwnershipError
		missingID  *MissingIdentifierError
		missingCrd *MissingCredentialsError
		unknown    *OrderOutcomeUnknownError
		loginErr   *LoginFailedError
		status     *HTTPStatusError
	)
	switch {
	case errors.Is(err, ErrInvalidOrder),
		errors.As(err, &rejected),
		errors.As(err, &ownership),
		errors.As(err, &missingID),
		errors.As(err, &missingCrd),
		errors.As(err, &unknown):
		return true
	case errors.As(err, &loginErr):
		return loginErr.Err == nil
	case errors.As(err, &status):
		return status.Status != 429 && status.Status != 408
	}
	return false
}
