// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package ageverify

import "time"

// DefaultThresholdYears is the age of majority for alcohol and tobacco sales in Japan.
const DefaultThresholdYears = 20

// Result is the eligibility decision of a verification attempt.
type Result int

// Results of a verification attempt.
//
// Indeterminate is the result of every aborted attempt and is always treated
// as a denial.
const (
	Indeterminate Result = iota
	Eligible
	Ineligible
)

func (r Result) String() string {
	switch r {
	case Eligible:
		return "eligible"
	case Ineligible:
		return "ineligible"
	default:
		return "indeterminate"
	}
}

// Allowed reports whether the result permits the sale.
func (r Result) Allowed() bool {
	return r == Eligible
}

// Age returns the age in completed years at the date of ref.
//
// The age is only incremented on the birthday itself: a person born on
// February 29th becomes a year older on March 1st in non-leap years.
func Age(b Birthdate, ref time.Time) int {
	year, month, day := ref.Date()

	age := year - b.Year
	if month < b.Month || (month == b.Month && day < b.Day) {
		age--
	}

	return age
}

// Evaluate decides whether a person born on b has reached thresholdYears at
// the date of ref. It has no side effects.
func Evaluate(b Birthdate, thresholdYears int, ref time.Time) Result {
	if Age(b, ref) >= thresholdYears {
		return Eligible
	}

	return Ineligible
}
