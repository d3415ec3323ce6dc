// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"fmt"

	iso "cunicu.li/go-iso7816"
)

// Instructions of the command vocabulary. VERIFY is taken from iso7816 directly.
const (
	insSelect      iso.Instruction = 0xa4
	insReadBinary  iso.Instruction = 0xb0
	insGetResponse iso.Instruction = 0xc0

	// Short APDUs carry at most 255 data bytes and expect at most 256.
	maxShortData = 0xff
	maxShortLe   = 0x100
)

// Command is a short command APDU.
//
// Commands are values: they are never modified after construction and can be
// resent verbatim.
type Command struct {
	// Name is used in errors and audit logs, e.g. "SELECT FILE".
	Name string

	Cla  byte
	Ins  iso.Instruction
	P1   byte
	P2   byte
	Data []byte

	// Le is the expected response length. Zero omits the Le field, 256 is
	// encoded as 0x00.
	Le int
}

// Bytes encodes the command as a short APDU (ISO/IEC 7816-4 5.1).
func (c Command) Bytes() ([]byte, error) {
	if len(c.Data) > maxShortData {
		return nil, fmt.Errorf("%w for command data: got=%dB, want<=%dB", errUnexpectedLength, len(c.Data), maxShortData)
	}

	if c.Le < 0 || c.Le > maxShortLe {
		return nil, fmt.Errorf("%w for Le: got=%d, want<=%d", errUnexpectedLength, c.Le, maxShortLe)
	}

	b := make([]byte, 0, 5+len(c.Data)+1)
	b = append(b, c.Cla, byte(c.Ins), c.P1, c.P2)

	if len(c.Data) > 0 {
		b = append(b, byte(len(c.Data)))
		b = append(b, c.Data...)
	}

	if c.Le > 0 {
		b = append(b, byte(c.Le)) // 256 wraps to 0x00
	}

	return b, nil
}

// Expect reports whether sw is the expected status for this command.
// 0x9000 is the only status word treated as success.
func (c Command) Expect(sw iso.Code) bool {
	return sw == StatusSuccess
}

// withLe returns a copy of the command expecting le bytes.
func (c Command) withLe(le int) Command {
	c.Le = le
	return c
}

// Response is a response APDU split into its data and status word.
type Response struct {
	Data []byte
	SW   iso.Code
}

func parseResponse(b []byte) (Response, error) {
	if len(b) < 2 {
		return Response{}, fmt.Errorf("%w: want>=2B, got=%dB", errUnexpectedLength, len(b))
	}

	n := len(b) - 2

	return Response{
		Data: b[:n:n],
		SW:   iso.Code{b[n], b[n+1]},
	}, nil
}

func selectApplication(aid []byte) Command {
	return Command{
		Name: "SELECT APPLICATION",
		Ins:  insSelect,
		P1:   0x04, // by DF name
		P2:   0x00,
		Data: aid,
	}
}

func selectFile(fid []byte) Command {
	return Command{
		Name: "SELECT FILE",
		Ins:  insSelect,
		P1:   0x00,
		P2:   0x0c, // no response data
		Data: fid,
	}
}

func verifyPIN(ref byte, pin []byte) Command {
	return Command{
		Name: "VERIFY",
		Ins:  iso.InsVerify,
		P1:   0x00,
		P2:   ref,
		Data: pin,
	}
}

func readBinary(offset, le int) Command {
	return Command{
		Name: "READ BINARY",
		Ins:  insReadBinary,
		P1:   byte(offset >> 8 & 0x7f),
		P2:   byte(offset),
		Le:   le,
	}
}

func getResponse(le int) Command {
	return Command{
		Name: "GET RESPONSE",
		Ins:  insGetResponse,
		Le:   le,
	}
}
