// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"fmt"
	"time"
)

// MinBirthYear is the earliest accepted year of birth.
const MinBirthYear = 1900

// Birthdate is a calendar date of birth.
type Birthdate struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseBirthdate parses an 8 digit YYYYMMDD string and validates it against asOf.
func ParseBirthdate(s string, asOf time.Time) (Birthdate, error) {
	if len(s) != 8 {
		return Birthdate{}, fmt.Errorf("%w: expected 8 digits, got %d characters", ErrInvalidBirthdate, len(s))
	}

	var n [8]int
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return Birthdate{}, fmt.Errorf("%w: not a YYYYMMDD string", ErrInvalidBirthdate)
		}
		n[i] = int(s[i] - '0')
	}

	b := Birthdate{
		Year:  n[0]*1000 + n[1]*100 + n[2]*10 + n[3],
		Month: time.Month(n[4]*10 + n[5]),
		Day:   n[6]*10 + n[7],
	}

	if err := b.Validate(asOf); err != nil {
		return Birthdate{}, err
	}

	return b, nil
}

// Validate checks that b is a real calendar date with a year between
// MinBirthYear and the year of asOf.
func (b Birthdate) Validate(asOf time.Time) error {
	if b.Year < MinBirthYear || b.Year > asOf.Year() {
		return fmt.Errorf("%w: year out of range", ErrInvalidBirthdate)
	}

	t := time.Date(b.Year, b.Month, b.Day, 0, 0, 0, 0, time.UTC)
	if t.Year() != b.Year || t.Month() != b.Month || t.Day() != b.Day {
		return fmt.Errorf("%w: not a calendar date", ErrInvalidBirthdate)
	}

	return nil
}

// String formats the date as YYYY-MM-DD.
//
// Birthdates are personal data and must not end up in logs.
func (b Birthdate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", b.Year, int(b.Month), b.Day)
}
