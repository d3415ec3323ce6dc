// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"fmt"
	"time"
)

// ScanStrategy searches the record for the first run of 8 ASCII digits which
// forms a valid YYYYMMDD birthdate.
//
// This is a heuristic for cards whose record layout is unknown. Any numeric
// field which happens to decode as a plausible date, e.g. an issue date or a
// serial number, is indistinguishable from the birthdate and will be
// returned if it comes first. Prefer CertificateStrategy or TLVStrategy when
// the layout is known.
type ScanStrategy struct{}

func (ScanStrategy) ExtractBirthdate(record []byte, asOf time.Time) (Birthdate, error) {
	for i := 0; i+8 <= len(record); i++ {
		w := record[i : i+8]

		if j := lastNonDigit(w); j >= 0 {
			i += j // skip windows which contain this byte
			continue
		}

		if b, err := ParseBirthdate(string(w), asOf); err == nil {
			return b, nil
		}
	}

	return Birthdate{}, fmt.Errorf("%w: no date in %d bytes", ErrBirthdateNotFound, len(record))
}

func lastNonDigit(b []byte) int {
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < '0' || b[i] > '9' {
			return i
		}
	}

	return -1
}
