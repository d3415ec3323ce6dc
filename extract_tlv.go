// SPDX-FileCopyrightText: 2023-2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"cunicu.li/go-iso7816/encoding/tlv"
)

var errMalformedDataObject = errors.New("malformed data object")

// TLVStrategy decodes the record as a sequence of BER-TLV data objects and
// reads the full date of birth (tag 5F2B) either at the top level or within
// a personal details template (tag 6B).
type TLVStrategy struct{}

func (TLVStrategy) ExtractBirthdate(record []byte, asOf time.Time) (Birthdate, error) {
	// Files are padded to their allocated size.
	record = bytes.TrimRight(record, "\x00\xff")

	tvs, err := tlv.DecodeBER(record)
	if err != nil {
		// tlv.DecodeBER rejects two byte tags with a number below 31,
		// e.g. 5F0E or 5F11, which DG11 uses.
		if tvs, err = decodeDataObjects(record); err != nil {
			return Birthdate{}, fmt.Errorf("%w: failed to decode record: %w", ErrBirthdateNotFound, err)
		}
	}

	v, _, ok := tvs.GetChild(tagPersonalDetails, tagBirthdate)
	if !ok {
		v, _, ok = tvs.Get(tagBirthdate)
	}

	if !ok {
		return Birthdate{}, fmt.Errorf("%w: no data object %#x", ErrBirthdateNotFound, tagBirthdate)
	}

	return ParseBirthdate(string(v), asOf)
}

// decodeDataObjects decodes BER-TLV data objects with tags of up to three
// bytes, accepting any tag number in the subsequent bytes.
func decodeDataObjects(buf []byte) (tlv.TagValues, error) {
	var tvs tlv.TagValues

	for len(buf) > 0 {
		var tv tlv.TagValue

		tag, n, err := decodeTag(buf)
		if err != nil {
			return nil, err
		}

		l, m, err := decodeLength(buf[n:])
		if err != nil {
			return nil, err
		}

		buf = buf[n+m:]
		if len(buf) < l {
			return nil, fmt.Errorf("%w: tag %#x exceeds record", errMalformedDataObject, tag)
		}

		tv.Tag = tag
		tv.Value = buf[:l]
		buf = buf[l:]

		if tag.IsConstructed() {
			if tv.Children, err = decodeDataObjects(tv.Value); err != nil {
				return nil, err
			}
		}

		tvs = append(tvs, tv)
	}

	return tvs, nil
}

func decodeTag(buf []byte) (tlv.Tag, int, error) {
	t := tlv.Tag(buf[0])
	if buf[0]&0x1f != 0x1f {
		return t, 1, nil
	}

	for i := 1; i < len(buf) && i < 3; i++ {
		t = t<<8 | tlv.Tag(buf[i])
		if buf[i]&0x80 == 0 {
			return t, i + 1, nil
		}
	}

	return 0, 0, fmt.Errorf("%w: invalid tag", errMalformedDataObject)
}

func decodeLength(buf []byte) (int, int, error) {
	if len(buf) < 1 {
		return 0, 0, fmt.Errorf("%w: missing length", errMalformedDataObject)
	}

	if buf[0] < 0x80 {
		return int(buf[0]), 1, nil
	}

	n := int(buf[0] & 0x7f)
	if n == 0 || n > 3 || len(buf) < n+1 {
		return 0, 0, fmt.Errorf("%w: invalid length", errMalformedDataObject)
	}

	l := 0
	for _, b := range buf[1 : n+1] {
		l = l<<8 | int(b)
	}

	return l, n + 1, nil
}
