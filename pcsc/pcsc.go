// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package pcsc connects to smart cards through the PC/SC daemon of the system.
package pcsc

import (
	"errors"
	"fmt"

	"github.com/ebfe/scard"

	"cunicu.li/go-ageverify"
)

var _ ageverify.Driver = (*Driver)(nil)

// Driver implements ageverify.Driver on top of PC/SC.
//
// Each connection uses its own PC/SC context, cards are opened in exclusive
// mode within a transaction.
type Driver struct{}

// Readers returns the names of all readers. A system without readers yields
// an empty list, not an error.
func (Driver) Readers() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PC/SC: %w", err)
	}
	defer ctx.Release() //nolint:errcheck

	readers, err := ctx.ListReaders()
	if errors.Is(err, scard.ErrNoReadersAvailable) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to list readers: %w", err)
	}

	return readers, nil
}

// Connect connects to the card in reader and begins a transaction.
func (Driver) Connect(reader string) (ageverify.Conn, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PC/SC: %w", err)
	}

	h, err := ctx.Connect(reader, scard.ShareExclusive, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		if rerr := ctx.Release(); rerr != nil {
			return nil, fmt.Errorf("failed to release context: %w", rerr)
		}

		return nil, wrapError("failed to connect to card", err)
	}

	if err := h.BeginTransaction(); err != nil {
		h.Disconnect(scard.LeaveCard) //nolint:errcheck
		ctx.Release()                 //nolint:errcheck

		return nil, wrapError("failed to begin transaction", err)
	}

	return &Conn{
		ctx:  ctx,
		card: h,
	}, nil
}

// wrapError classifies PC/SC errors which do not indicate a fault of the
// reader or card.
func wrapError(msg string, err error) error {
	switch {
	case errors.Is(err, scard.ErrSharingViolation):
		return fmt.Errorf("%w: %s: %w", ageverify.ErrReaderBusy, msg, err)
	case errors.Is(err, scard.ErrNoSmartcard), errors.Is(err, scard.ErrRemovedCard), errors.Is(err, scard.ErrUnknownReader):
		return fmt.Errorf("%w: %s: %w", ageverify.ErrReaderUnavailable, msg, err)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}

// Conn is an exclusive connection to a card.
type Conn struct {
	ctx  *scard.Context
	card *scard.Card
}

// Transmit sends a command APDU and returns the response including the
// status word.
func (c *Conn) Transmit(req []byte) ([]byte, error) {
	resp, err := c.card.Transmit(req)
	if err != nil {
		return nil, wrapError("failed to transmit request", err)
	}

	return resp, nil
}

// Close ends the transaction, disconnects the card and releases the context.
func (c *Conn) Close() error {
	var errs []error

	if err := c.card.EndTransaction(scard.LeaveCard); err != nil {
		errs = append(errs, fmt.Errorf("failed to end transaction: %w", err))
	}

	if err := c.card.Disconnect(scard.ResetCard); err != nil {
		errs = append(errs, fmt.Errorf("failed to disconnect: %w", err))
	}

	if err := c.ctx.Release(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release context: %w", err))
	}

	return errors.Join(errs...)
}
