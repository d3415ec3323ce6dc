// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"fmt"
)

const (
	// DefaultChunkSize is the number of bytes requested per READ BINARY.
	DefaultChunkSize = 256

	// DefaultMaxChunks bounds the number of READ BINARY commands per file.
	DefaultMaxChunks = 128

	// DefaultPINReference is the P2 parameter of the VERIFY command.
	DefaultPINReference = 0x01

	// READ BINARY offsets are limited to 15 bits, the high bit of P1 selects
	// a short file identifier instead.
	maxOffset = 0x7fff

	maxPINLength = 16
)

// FileRequest describes which file to read from which application.
type FileRequest struct {
	// AID is the identifier of the application holding the file.
	AID []byte

	// PIN is verified before the file is selected. An empty PIN skips
	// verification.
	PIN string

	// PINReference is the P2 parameter of VERIFY. Defaults to DefaultPINReference.
	PINReference byte

	// FileID is the identifier of the elementary file.
	FileID []byte
}

// CardReader drives the command sequence required to read a file from a card.
type CardReader struct {
	Transport Transport

	// ChunkSize is the number of bytes requested per READ BINARY, 1 to 256.
	// Defaults to DefaultChunkSize.
	ChunkSize int

	// MaxChunks bounds the number of READ BINARY commands per file.
	// Defaults to DefaultMaxChunks.
	MaxChunks int

	// Step is called by ReadFile with StateAuthenticated and StateDataRead
	// once the respective step succeeded.
	Step func(State)
}

// ReadFile selects the application, verifies the PIN if one is given, selects
// the file and reads it in chunks.
//
// The first unexpected status word aborts the sequence, no further command is
// sent. A rejected PIN is returned as AuthError and is never retried.
func (r *CardReader) ReadFile(s *Session, req FileRequest) ([]byte, error) {
	if err := r.SelectApplication(s, req.AID); err != nil {
		return nil, err
	}

	if req.PIN != "" {
		if err := r.VerifyPIN(s, req.PINReference, req.PIN); err != nil {
			return nil, err
		}

		r.step(StateAuthenticated)
	}

	if err := r.SelectFile(s, req.FileID); err != nil {
		return nil, err
	}

	record, err := r.ReadBinary(s)
	if err != nil {
		return nil, err
	}

	r.step(StateDataRead)

	return record, nil
}

func (r *CardReader) step(st State) {
	if r.Step != nil {
		r.Step(st)
	}
}

// SelectApplication selects the application by its AID.
func (r *CardReader) SelectApplication(s *Session, aid []byte) error {
	_, err := r.send(s, selectApplication(aid))
	return err
}

// SelectFile selects an elementary file of the current application.
func (r *CardReader) SelectFile(s *Session, fid []byte) error {
	_, err := r.send(s, selectFile(fid))
	return err
}

// VerifyPIN sends the PIN to the card once. A zero ref selects
// DefaultPINReference. Malformed PINs are rejected without contacting the card.
func (r *CardReader) VerifyPIN(s *Session, ref byte, pin string) error {
	b, err := encodePIN(pin)
	if err != nil {
		return err
	}

	if ref == 0 {
		ref = DefaultPINReference
	}

	cmd := verifyPIN(ref, b)

	resp, err := r.Transport.Exchange(s, cmd)
	if err != nil {
		return err
	}

	if !cmd.Expect(resp.SW) {
		return authError(resp.SW)
	}

	return nil
}

// ReadBinary accumulates the current file until a short chunk, an end of file
// status or the read limit is reached.
func (r *CardReader) ReadBinary(s *Session) ([]byte, error) {
	chunkSize := r.ChunkSize
	if chunkSize <= 0 || chunkSize > maxShortLe {
		chunkSize = DefaultChunkSize
	}

	maxChunks := r.MaxChunks
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}

	var record []byte
	for i := 0; ; i++ {
		offset := len(record)
		if i >= maxChunks || offset > maxOffset {
			return nil, fmt.Errorf("%w: %d bytes after %d chunks", ErrRecordTooLong, offset, i)
		}

		cmd := readBinary(offset, chunkSize)

		resp, err := r.Transport.Exchange(s, cmd)
		if err != nil {
			return nil, err
		}

		switch {
		case cmd.Expect(resp.SW):
			record = append(record, resp.Data...)
			if len(resp.Data) < chunkSize {
				return record, nil
			}

		case resp.SW == statusEndOfFile:
			return append(record, resp.Data...), nil

		case resp.SW == statusWrongOffset && offset > 0:
			// The previous chunk ended exactly at the end of the file.
			return record, nil

		default:
			return nil, &StatusError{cmd.Name, resp.SW}
		}
	}
}

func (r *CardReader) send(s *Session, cmd Command) ([]byte, error) {
	resp, err := r.Transport.Exchange(s, cmd)
	if err != nil {
		return nil, err
	}

	if !cmd.Expect(resp.SW) {
		return nil, &StatusError{cmd.Name, resp.SW}
	}

	return resp.Data, nil
}

// encodePIN returns the PIN digits as ASCII. Unlike PIV, no padding is applied.
func encodePIN(pin string) ([]byte, error) {
	if len(pin) == 0 || len(pin) > maxPINLength {
		return nil, errInvalidPIN
	}

	for _, c := range pin {
		if c < '0' || c > '9' {
			return nil, errInvalidPIN
		}
	}

	return []byte(pin), nil
}
