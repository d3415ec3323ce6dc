// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

func TestParseBirthdate(t *testing.T) {
	tests := []struct {
		in   string
		want Birthdate
		ok   bool
	}{
		{"19900101", Birthdate{1990, time.January, 1}, true},
		{"20000229", Birthdate{2000, time.February, 29}, true},
		{"19000101", Birthdate{1900, time.January, 1}, true},
		{"20240615", Birthdate{2024, time.June, 15}, true},
		{"20241231", Birthdate{2024, time.December, 31}, true},
		{"18991231", Birthdate{}, false},
		{"20250101", Birthdate{}, false},
		{"19990229", Birthdate{}, false},
		{"19901301", Birthdate{}, false},
		{"19900100", Birthdate{}, false},
		{"19900431", Birthdate{}, false},
		{"1990010", Birthdate{}, false},
		{"199001011", Birthdate{}, false},
		{"1990-1-1", Birthdate{}, false},
		{"", Birthdate{}, false},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseBirthdate(tc.in, testNow)
			if !tc.ok {
				assert.ErrorIs(t, err, ErrInvalidBirthdate)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBirthdateString(t *testing.T) {
	assert.Equal(t, "1990-01-02", Birthdate{1990, time.January, 2}.String())
}
