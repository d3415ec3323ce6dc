// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"time"
)

// OIDBirthdate identifies the date of birth subject attribute of the JPKI
// user certificate. It serves as an example; the scheme is not validated.
//
//nolint:gochecknoglobals
var OIDBirthdate = asn1.ObjectIdentifier{1, 2, 392, 200119, 4, 403, 1, 3}

// CertificateStrategy parses the record as an X.509 certificate and reads the
// birthdate from a subject attribute holding a YYYYMMDD string.
//
// The certificate is neither verified nor checked for expiry.
type CertificateStrategy struct {
	// OID of the subject attribute. Defaults to OIDBirthdate.
	OID asn1.ObjectIdentifier
}

func (s CertificateStrategy) ExtractBirthdate(record []byte, asOf time.Time) (Birthdate, error) {
	der, err := certificateDER(record)
	if err != nil {
		return Birthdate{}, err
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return Birthdate{}, fmt.Errorf("%w: %w", ErrMalformedCertificate, err)
	}

	oid := s.OID
	if len(oid) == 0 {
		oid = OIDBirthdate
	}

	for _, atv := range cert.Subject.Names {
		if !atv.Type.Equal(oid) {
			continue
		}

		v, ok := atv.Value.(string)
		if !ok {
			return Birthdate{}, fmt.Errorf("%w: attribute is not a string", ErrInvalidBirthdate)
		}

		return ParseBirthdate(v, asOf)
	}

	return Birthdate{}, ErrAttributeNotFound
}
