// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	iso "cunicu.li/go-iso7816"
	"github.com/stretchr/testify/assert"
)

func TestReasonOf(t *testing.T) {
	tests := []struct {
		err  error
		want Reason
	}{
		{nil, ReasonNone},
		{fmt.Errorf("%w: no readers", ErrReaderUnavailable), ReasonReaderUnavailable},
		{fmt.Errorf("%w: held", ErrReaderBusy), ReasonReaderBusy},
		{&TransportError{"READ BINARY", errTransmit}, ReasonTransport},
		{&TransportError{"READ BINARY", fmt.Errorf("%w: card removed", ErrReaderUnavailable)}, ReasonTransport},
		{fmt.Errorf("stopped waiting: %w", context.Canceled), ReasonCanceled},
		{&StatusError{"SELECT FILE", iso.Code{0x6a, 0x82}}, ReasonCardProtocol},
		{ErrRecordTooLong, ReasonCardProtocol},
		{authError(iso.Code{0x63, 0xc2}), ReasonAuthenticationFailed},
		{errInvalidPIN, ReasonAuthenticationFailed},
		{fmt.Errorf("%w: bad", ErrMalformedCertificate), ReasonMalformedCertificate},
		{ErrAttributeNotFound, ReasonAttributeNotFound},
		{ErrBirthdateNotFound, ReasonBirthdateNotFound},
		{ErrInvalidBirthdate, ReasonInvalidBirthdate},
		{ErrInternal, ReasonInternal},
		{errors.New("anything else"), ReasonInternal},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, ReasonOf(tc.err), "%v", tc.err)
	}
}

func TestStatusError(t *testing.T) {
	err := &StatusError{"SELECT FILE", iso.Code{0x6a, 0x82}}

	assert.ErrorIs(t, err, ErrCardProtocol)
	assert.Contains(t, err.Error(), "SELECT FILE failed with status 6A82")
}

func TestTransportError(t *testing.T) {
	err := &TransportError{"VERIFY", errTransmit}

	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, errTransmit)
	assert.EqualError(t, err, "transport error during VERIFY: card removed")
}

func TestAuthErrorRetries(t *testing.T) {
	tests := []struct {
		code    iso.Code
		retries int
	}{
		{iso.Code{0x63, 0xc3}, 3},
		{iso.Code{0x63, 0xc0}, 0},
		{iso.Code{0x63, 0x02}, 2},
		{iso.Code{0x63, 0x00}, -1},
		{statusAuthBlocked, 0},
		{iso.Code{0x6a, 0x88}, -1},
	}

	for _, tc := range tests {
		err := authError(tc.code)

		assert.Equal(t, tc.retries, err.Retries, "%X", tc.code[:])
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	}
}
