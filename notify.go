// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// DefaultNotifyTimeout bounds a single notification.
const DefaultNotifyTimeout = 3 * time.Second

var errUnexpectedStatus = errors.New("unexpected status code")

// NotificationStatus is the delivery state of a notification.
type NotificationStatus int

// Delivery states of a notification.
//
// NotificationAttempted is the zero value. It is reported by notifiers which
// send the decision without receiving an acknowledgement, e.g. a Bluetooth LE
// write without response.
const (
	NotificationAttempted NotificationStatus = iota
	NotificationConfirmed
	NotificationFailed
)

func (s NotificationStatus) String() string {
	switch s {
	case NotificationConfirmed:
		return "confirmed"
	case NotificationFailed:
		return "failed"
	default:
		return "attempted"
	}
}

// Notification describes the delivery of a decision to the external actor.
// It never changes the decision itself.
type Notification struct {
	Status NotificationStatus
	Err    error
}

// Notifier delivers the decision of an attempt to the vending machine, gate
// controller or any other external actor.
//
// Notify receives Eligible or Ineligible only. Implementations must bound the
// time they block and report failures in the returned Notification.
type Notifier interface {
	Notify(ctx context.Context, r Result) Notification
}

// NotifierFunc adapts a function to the Notifier interface, e.g. for a
// Bluetooth LE characteristic write.
type NotifierFunc func(ctx context.Context, r Result) Notification

func (f NotifierFunc) Notify(ctx context.Context, r Result) Notification {
	return f(ctx, r)
}

// NotifyPayload is the JSON body sent by HTTPNotifier.
type NotifyPayload struct {
	Result string `json:"result"`
}

// Payload values of NotifyPayload.
const (
	PayloadOK     = "ok"
	PayloadDenied = "denied"
)

// PayloadFor maps a result to its wire value. Only Eligible maps to PayloadOK.
func PayloadFor(r Result) NotifyPayload {
	if r.Allowed() {
		return NotifyPayload{PayloadOK}
	}

	return NotifyPayload{PayloadDenied}
}

// HTTPNotifier posts the decision as JSON to an HTTP endpoint.
type HTTPNotifier struct {
	URL string

	// Timeout bounds the whole request. Defaults to DefaultNotifyTimeout.
	Timeout time.Duration

	// Client defaults to http.DefaultClient.
	Client *http.Client

	// Breaker, if set, fails notifications immediately while the endpoint is
	// known to be down instead of waiting for the timeout.
	Breaker *gobreaker.CircuitBreaker
}

// NewBreaker returns a circuit breaker which opens after failures consecutive
// failed notifications and probes the endpoint again after openTimeout.
func NewBreaker(name string, failures uint32, openTimeout time.Duration, onStateChange func(from, to gobreaker.State)) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if onStateChange != nil {
				onStateChange(from, to)
			}
		},
	})
}

// Notify posts {"result": "ok"|"denied"}. Any 2xx response confirms delivery.
func (n *HTTPNotifier) Notify(ctx context.Context, r Result) Notification {
	var err error
	if n.Breaker != nil {
		_, err = n.Breaker.Execute(func() (any, error) {
			return nil, n.post(ctx, r)
		})
	} else {
		err = n.post(ctx, r)
	}

	if err != nil {
		return Notification{NotificationFailed, err}
	}

	return Notification{NotificationConfirmed, nil}
}

func (n *HTTPNotifier) post(ctx context.Context, r Result) error {
	body, err := json.Marshal(PayloadFor(r))
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	timeout := n.Timeout
	if timeout <= 0 {
		timeout = DefaultNotifyTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode)
	}

	return nil
}
