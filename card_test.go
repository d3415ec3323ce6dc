// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"bytes"
	"errors"
	"sync"
)

var (
	testAID = []byte{0xd3, 0x92, 0xf0, 0x00, 0x26, 0x01, 0x01}
	testFID = []byte{0x00, 0x11}

	errTransmit = errors.New("card removed")
)

func sw(sw1, sw2 byte) []byte {
	return []byte{sw1, sw2}
}

// testCard simulates a card holding a single transparent file in one
// application.
type testCard struct {
	aid  []byte
	fid  []byte
	pin  string
	file []byte

	// eofStatus makes the card answer the read of the final chunk with 6282.
	eofStatus bool

	// fail makes Transmit fail for the instruction.
	fail map[byte]error

	// status overrides the status word of the instruction.
	status map[byte][]byte

	mu       sync.Mutex
	app      bool
	verified bool
	sent     [][]byte
	reads    int
	closed   int
	closeErr error
}

func newTestCard(file []byte) *testCard {
	return &testCard{
		aid:  testAID,
		fid:  testFID,
		file: file,
	}
}

func (c *testCard) Transmit(req []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sent = append(c.sent, bytes.Clone(req))

	ins := req[1]
	if err, ok := c.fail[ins]; ok {
		return nil, err
	}

	if s, ok := c.status[ins]; ok {
		return s, nil
	}

	var data []byte
	if len(req) > 5 {
		data = req[5 : 5+int(req[4])]
	}

	switch ins {
	case 0xa4:
		if req[2] == 0x04 {
			if !bytes.Equal(data, c.aid) {
				return sw(0x6a, 0x82), nil
			}

			c.app = true

			return sw(0x90, 0x00), nil
		}

		switch {
		case !c.app:
			return sw(0x69, 0x86), nil
		case c.pin != "" && !c.verified:
			return sw(0x69, 0x82), nil
		case !bytes.Equal(data, c.fid):
			return sw(0x6a, 0x82), nil
		}

		return sw(0x90, 0x00), nil

	case 0x20:
		if string(data) != c.pin {
			return sw(0x63, 0xc2), nil
		}

		c.verified = true

		return sw(0x90, 0x00), nil

	case 0xb0:
		c.reads++

		offset := int(req[2]&0x7f)<<8 | int(req[3])
		le := int(req[4])
		if le == 0 {
			le = 256
		}

		if offset >= len(c.file) {
			return sw(0x6b, 0x00), nil
		}

		end := min(offset+le, len(c.file))
		resp := bytes.Clone(c.file[offset:end])

		if c.eofStatus && end == len(c.file) {
			return append(resp, 0x62, 0x82), nil
		}

		return append(resp, 0x90, 0x00), nil
	}

	return sw(0x6d, 0x00), nil
}

func (c *testCard) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed++

	return c.closeErr
}

func (c *testCard) commands() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sent
}

// testDriver hands out the same card for every connection.
type testDriver struct {
	readers    []string
	readersErr error
	connectErr error
	card       Conn

	mu       sync.Mutex
	connects int
}

func (d *testDriver) Readers() ([]string, error) {
	return d.readers, d.readersErr
}

func (d *testDriver) Connect(string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connectErr != nil {
		return nil, d.connectErr
	}

	d.connects++

	return d.card, nil
}

// scriptedConn answers each transmitted command with the next response.
type scriptedConn struct {
	responses [][]byte
	sent      [][]byte
}

func (c *scriptedConn) Transmit(req []byte) ([]byte, error) {
	c.sent = append(c.sent, bytes.Clone(req))

	if len(c.responses) == 0 {
		return nil, errTransmit
	}

	resp := c.responses[0]
	c.responses = c.responses[1:]

	return resp, nil
}

func (c *scriptedConn) Close() error {
	return nil
}

func newTestTransport(card Conn) *CardTransport {
	return &CardTransport{
		Driver: &testDriver{
			readers: []string{"Test Reader 0"},
			card:    card,
		},
	}
}
