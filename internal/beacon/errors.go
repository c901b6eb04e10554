// SPDX-License-Identifier: MIT

package beacon

import (
	"errors"
	"fmt"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrPermanent        = errors.New("beacon: permanent delivery failure")
	ErrRetriesExhausted = errors.New("beacon: retry budget exhausted")
	ErrClosed           = errors.New("beacon: dispatcher closed")
)

// DeliveryError wraps a sentinel with the context of one failed
// beacon delivery.
type DeliveryError struct {
	Sentinel error
	Event    string
	URL      string
	Status   int
	Attempts int
	Err      error // nested lower-level error (e.g. net.Error)
}

func (e *DeliveryError) Error() string {
	msg := fmt.Sprintf("beacon %q: %v", e.Event, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempt(s)", msg, e.Attempts)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DeliveryError) Unwrap() error {
	return e.Sentinel
}
