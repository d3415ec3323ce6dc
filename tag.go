// SPDX-FileCopyrightText: 2023-2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package ageverify

// Data objects of card-face records
//
// ICAO Doc 9303 Part 10, 4.7.11 Data Group 11 - Additional Personal Details
// https://www.icao.int/publications/Documents/9303_p10_cons_en.pdf
const (
	tagPersonalDetails = 0x6b
	tagTagList         = 0x5c
	tagFullName        = 0x5f0e
	tagOtherNames      = 0xa0
	tagOtherName       = 0x5f0f
	tagNameCount       = 0x02
	tagBirthdate       = 0x5f2b
	tagPlaceOfBirth    = 0x5f11
	tagAddress         = 0x5f42
)

// Certificate containers
//
// https://nvlpubs.nist.gov/nistpubs/SpecialPublications/NIST.SP.800-73-4.pdf#page=85
const (
	// tagCertificate is the BER-TLV container some applets wrap certificates in.
	tagCertificate = 0x70
)
