// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

// Package ageverify implements identity card based age verification for
// vending machines and self-checkout terminals.
//
// A Verifier reads a file from a smart card, extracts the birthdate, decides
// whether the card holder has reached an age threshold and notifies an
// external actor of the decision. Every attempt ends with exactly one
// notification, failures are reported as a denial.
package ageverify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "cunicu.li/go-ageverify"

var errNoNotifier = errors.New("no notifier configured")

// Outcome is the terminal record of a verification attempt.
//
// It contains no personal data read from the card.
type Outcome struct {
	AttemptID string
	Result    Result

	// Reason is ReasonNone unless the attempt was aborted.
	Reason Reason
	Err    error

	Notification Notification
	Path         Path
	Duration     time.Duration
}

// Allowed is the decision the external actor sees.
func (o Outcome) Allowed() bool {
	return o.Result.Allowed()
}

// Verifier runs verification attempts.
//
// A Verifier is safe for concurrent use if its collaborators are. Attempts on
// the same reader are serialized by the Transport.
type Verifier struct {
	Transport Transport
	File      FileRequest

	// ChunkSize and MaxChunks are passed on to the CardReader.
	ChunkSize int
	MaxChunks int

	// Strategy defaults to CertificateStrategy with OIDBirthdate.
	Strategy BirthdateStrategy

	// ThresholdYears defaults to DefaultThresholdYears.
	ThresholdYears int

	Notifier Notifier

	// Now returns the reference date for the age calculation.
	// Defaults to time.Now.
	Now func() time.Time

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics may be nil.
	Metrics *Metrics

	// Tracer defaults to the tracer of the global provider.
	Tracer trace.Tracer
}

type attempt struct {
	log  *zap.Logger
	span trace.Span
	path Path
}

func (a *attempt) enter(s State) {
	a.path = append(a.path, s)
	a.span.AddEvent(s.String())
	a.log.Debug("State reached", zap.Stringer("state", s))
}

// Verify runs a single attempt to completion. It never panics and never
// returns without having notified the external actor once.
//
// Any failure aborts the attempt with an Indeterminate result, which is
// notified as a denial. The card session is closed before the notification
// is sent.
func (v *Verifier) Verify(ctx context.Context) Outcome {
	started := time.Now()

	o := Outcome{
		AttemptID: uuid.NewString(),
	}

	ctx, span := v.tracer().Start(ctx, "Verify", trace.WithAttributes(
		attribute.String("attempt_id", o.AttemptID),
	))
	defer span.End()

	a := &attempt{
		log:  v.logger().With(zap.String("attempt_id", o.AttemptID)),
		span: span,
	}

	a.enter(StateStart)
	a.log.Info("Verification attempt started")

	res, err := v.decide(ctx, a)
	if err != nil {
		res = Indeterminate

		a.enter(StateAborted)
		a.log.Warn("Verification attempt aborted",
			zap.Stringer("reason", ReasonOf(err)),
			zap.Error(err))

		span.RecordError(err)
		span.SetStatus(codes.Error, ReasonOf(err).String())
	}

	o.Result = res
	o.Reason = ReasonOf(err)
	o.Err = err

	a.log.Info("Decision",
		zap.Stringer("result", res),
		zap.Bool("allowed", res.Allowed()))

	o.Notification = v.notify(ctx, res)
	a.enter(StateNotified)

	switch n := o.Notification; n.Status {
	case NotificationConfirmed:
		a.log.Info("Notification delivered")
	case NotificationAttempted:
		a.log.Info("Notification sent without confirmation")
	default:
		a.log.Warn("Notification failed", zap.Error(n.Err))
	}

	a.enter(StateDone)

	o.Path = a.path
	o.Duration = time.Since(started)

	span.SetAttributes(
		attribute.String("result", res.String()),
		attribute.String("reason", o.Reason.String()),
		attribute.String("notification", o.Notification.Status.String()),
	)

	v.Metrics.observe(&o)

	a.log.Info("Verification attempt finished", zap.Duration("duration", o.Duration))

	return o
}

// decide runs all steps up to the evaluation. Panics of collaborators are
// returned as ErrInternal.
func (v *Verifier) decide(ctx context.Context, a *attempt) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res, err = Indeterminate, fmt.Errorf("%w: panic: %v", ErrInternal, p)
		}
	}()

	asOf := v.now()

	record, err := v.read(ctx, a)
	if err != nil {
		return Indeterminate, err
	}

	b, err := v.strategy().ExtractBirthdate(record, asOf)
	if err != nil {
		return Indeterminate, err
	}

	a.enter(StateExtracted)

	res = Evaluate(b, v.thresholdYears(), asOf)

	a.enter(StateEvaluated)

	return res, nil
}

// read connects to the card and reads the configured file. The session is
// closed before read returns.
func (v *Verifier) read(ctx context.Context, a *attempt) ([]byte, error) {
	if v.Transport == nil {
		return nil, fmt.Errorf("%w: no transport configured", ErrInternal)
	}

	s, err := v.Transport.Open(ctx)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := v.Transport.Close(s); err != nil {
			a.log.Warn("Failed to close card session", zap.Error(err))
		}
	}()

	a.enter(StateConnected)

	r := &CardReader{
		Transport: v.Transport,
		ChunkSize: v.ChunkSize,
		MaxChunks: v.MaxChunks,
		Step:      a.enter,
	}

	return r.ReadFile(s, v.File)
}

// notify sends the decision once. Indeterminate is sent as Ineligible.
//
// The notification is sent even if ctx has been cancelled so that the
// external actor is never left waiting. It is bounded by the notifier.
func (v *Verifier) notify(ctx context.Context, r Result) (n Notification) {
	defer func() {
		if p := recover(); p != nil {
			n = Notification{NotificationFailed, fmt.Errorf("%w: notifier panic: %v", ErrInternal, p)}
		}
	}()

	if v.Notifier == nil {
		return Notification{NotificationFailed, errNoNotifier}
	}

	if r == Indeterminate {
		r = Ineligible
	}

	return v.Notifier.Notify(context.WithoutCancel(ctx), r)
}

func (v *Verifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}

	return time.Now()
}

func (v *Verifier) strategy() BirthdateStrategy {
	if v.Strategy != nil {
		return v.Strategy
	}

	return CertificateStrategy{}
}

func (v *Verifier) thresholdYears() int {
	if v.ThresholdYears > 0 {
		return v.ThresholdYears
	}

	return DefaultThresholdYears
}

func (v *Verifier) logger() *zap.Logger {
	if v.Logger != nil {
		return v.Logger
	}

	return zap.NewNop()
}

func (v *Verifier) tracer() trace.Tracer {
	if v.Tracer != nil {
		return v.Tracer
	}

	return otel.Tracer(tracerName)
}
