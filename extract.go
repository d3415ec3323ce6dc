// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"encoding/asn1"
	"errors"
	"fmt"
	"time"
)

var errUnknownStrategy = errors.New("unknown extraction strategy")

// BirthdateStrategy locates the birthdate in a record read from the card.
//
// Implementations return either a valid Birthdate or an error, never a
// partially decoded date.
type BirthdateStrategy interface {
	ExtractBirthdate(record []byte, asOf time.Time) (Birthdate, error)
}

// Names of the strategies known to StrategyByName.
const (
	StrategyCertificate = "certificate"
	StrategyScan        = "scan"
	StrategyTLV         = "tlv"
)

// StrategyByName returns the strategy for the binary format a card exposes.
// The oid is only used by the certificate strategy and may be nil.
func StrategyByName(name string, oid asn1.ObjectIdentifier) (BirthdateStrategy, error) {
	switch name {
	case StrategyCertificate:
		return CertificateStrategy{OID: oid}, nil
	case StrategyScan:
		return ScanStrategy{}, nil
	case StrategyTLV:
		return TLVStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownStrategy, name)
	}
}
