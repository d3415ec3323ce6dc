// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"encoding/asn1"
	"fmt"
)

// certificateDER returns the first DER element of the record. Card files are
// usually longer than the certificate and padded.
func certificateDER(record []byte) ([]byte, error) {
	if len(record) > 0 && record[0] == tagCertificate {
		inner, _, err := unmarshalASN1(record, asn1.ClassApplication, tagCertificate&0x1f)
		if err != nil {
			return nil, err
		}

		record = inner
	}

	var v asn1.RawValue
	if _, err := asn1.Unmarshal(record, &v); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCertificate, err)
	}

	if v.Class != asn1.ClassUniversal || v.Tag != asn1.TagSequence {
		return nil, fmt.Errorf("%w: expected a sequence, got=%d/%x", ErrMalformedCertificate, v.Class, v.Tag)
	}

	return v.FullBytes, nil
}

func unmarshalASN1(b []byte, class, tag int) (obj, rest []byte, err error) {
	var v asn1.RawValue
	if rest, err = asn1.Unmarshal(b, &v); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedCertificate, err)
	}

	if v.Class != class || v.Tag != tag {
		return nil, nil, fmt.Errorf("%w: got=%d/%x, want=%d/%x", ErrMalformedCertificate, v.Class, v.Tag, class, tag)
	}

	return v.Bytes, rest, nil
}
