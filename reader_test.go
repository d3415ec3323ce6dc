// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"bytes"
	"context"
	"testing"

	iso "cunicu.li/go-iso7816"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFile(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}

	return b
}

func withReader(t *testing.T, card *testCard, f func(t *testing.T, r *CardReader, s *Session)) {
	t.Helper()

	tr := newTestTransport(card)

	s, err := tr.Open(context.Background())
	require.NoError(t, err, "Failed to open session")

	defer func() {
		assert.NoError(t, tr.Close(s), "Failed to close session")
	}()

	f(t, &CardReader{Transport: tr}, s)
}

func TestReadFileChunks(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		chunkSize int
		eof       bool
		reads     int
	}{
		{"short first chunk", 100, 256, false, 1},
		{"full chunks then short", 600, 256, false, 3},
		{"exact multiple", 512, 256, false, 3},
		{"small chunks", 100, 16, false, 7},
		{"end of file status", 512, 256, true, 2},
		{"single byte chunks", 5, 1, false, 6},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			file := testFile(tc.size)
			card := newTestCard(file)
			card.eofStatus = tc.eof

			withReader(t, card, func(t *testing.T, r *CardReader, s *Session) {
				r.ChunkSize = tc.chunkSize

				record, err := r.ReadFile(s, FileRequest{AID: testAID, FileID: testFID})
				require.NoError(t, err)
				assert.Equal(t, file, record)
				assert.Equal(t, tc.reads, card.reads)
			})
		})
	}
}

func TestReadFileWithPIN(t *testing.T) {
	file := testFile(42)
	card := newTestCard(file)
	card.pin = "1234"

	withReader(t, card, func(t *testing.T, r *CardReader, s *Session) {
		record, err := r.ReadFile(s, FileRequest{AID: testAID, PIN: "1234", FileID: testFID})
		require.NoError(t, err)
		assert.Equal(t, file, record)

		cmds := card.commands()
		require.Len(t, cmds, 4)
		assert.Equal(t, []byte{0x00, 0x20, 0x00, 0x01, 0x04, '1', '2', '3', '4'}, cmds[1])
	})
}

func TestReadFileSteps(t *testing.T) {
	card := newTestCard(testFile(42))
	card.pin = "1234"

	withReader(t, card, func(t *testing.T, r *CardReader, s *Session) {
		var steps Path
		r.Step = func(st State) { steps = append(steps, st) }

		_, err := r.ReadFile(s, FileRequest{AID: testAID, PIN: "1234", FileID: testFID})
		require.NoError(t, err)
		assert.Equal(t, Path{StateAuthenticated, StateDataRead}, steps)

		steps = nil

		_, err = r.ReadFile(s, FileRequest{AID: testAID, PIN: "4321", FileID: testFID})
		require.ErrorIs(t, err, ErrAuthenticationFailed)
		assert.Empty(t, steps)
	})
}

func TestReadFileWrongPIN(t *testing.T) {
	card := newTestCard(testFile(42))
	card.pin = "1234"

	withReader(t, card, func(t *testing.T, r *CardReader, s *Session) {
		_, err := r.ReadFile(s, FileRequest{AID: testAID, PIN: "4321", FileID: testFID})
		require.ErrorIs(t, err, ErrAuthenticationFailed)

		var aerr AuthError
		require.ErrorAs(t, err, &aerr)
		assert.Equal(t, 2, aerr.Retries)

		assert.Len(t, card.commands(), 2, "No command may follow a rejected PIN")
		assert.Zero(t, card.reads)
	})
}

func TestReadFileInvalidPIN(t *testing.T) {
	for _, pin := range []string{"12a4", "12345678901234567", " 1234"} {
		card := newTestCard(testFile(42))

		withReader(t, card, func(t *testing.T, r *CardReader, s *Session) {
			err := r.VerifyPIN(s, 0, pin)
			assert.ErrorIs(t, err, ErrAuthenticationFailed)
			assert.Empty(t, card.commands(), "Malformed PIN must not be sent")
		})
	}
}

func TestReadFileAbortsOnStatus(t *testing.T) {
	tests := []struct {
		name    string
		card    func(*testCard)
		req     FileRequest
		command string
		sent    int
	}{
		{
			name:    "unknown application",
			req:     FileRequest{AID: []byte{0xa0, 0x00}, FileID: testFID},
			command: "SELECT APPLICATION",
			sent:    1,
		},
		{
			name:    "unknown file",
			req:     FileRequest{AID: testAID, FileID: []byte{0x00, 0x01}},
			command: "SELECT FILE",
			sent:    2,
		},
		{
			name:    "security status not satisfied",
			card:    func(c *testCard) { c.pin = "1234" },
			req:     FileRequest{AID: testAID, FileID: testFID},
			command: "SELECT FILE",
			sent:    2,
		},
		{
			name:    "read binary rejected",
			card:    func(c *testCard) { c.status = map[byte][]byte{0xb0: sw(0x69, 0x81)} },
			req:     FileRequest{AID: testAID, FileID: testFID},
			command: "READ BINARY",
			sent:    3,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			card := newTestCard(testFile(42))
			if tc.card != nil {
				tc.card(card)
			}

			withReader(t, card, func(t *testing.T, r *CardReader, s *Session) {
				_, err := r.ReadFile(s, tc.req)
				require.ErrorIs(t, err, ErrCardProtocol)

				var serr *StatusError
				require.ErrorAs(t, err, &serr)
				assert.Equal(t, tc.command, serr.Command)

				assert.Len(t, card.commands(), tc.sent)
			})
		})
	}
}

func TestReadFileEmpty(t *testing.T) {
	card := newTestCard(nil)

	withReader(t, card, func(t *testing.T, r *CardReader, s *Session) {
		_, err := r.ReadFile(s, FileRequest{AID: testAID, FileID: testFID})

		var serr *StatusError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, iso.Code{0x6b, 0x00}, serr.Code)
	})
}

func TestReadFileTooLong(t *testing.T) {
	card := newTestCard(bytes.Repeat([]byte{'0'}, 1024))

	withReader(t, card, func(t *testing.T, r *CardReader, s *Session) {
		r.MaxChunks = 3

		_, err := r.ReadFile(s, FileRequest{AID: testAID, FileID: testFID})
		assert.ErrorIs(t, err, ErrRecordTooLong)
		assert.ErrorIs(t, err, ErrCardProtocol)
		assert.Equal(t, 3, card.reads)
	})
}

func TestReadFileTransportError(t *testing.T) {
	card := newTestCard(testFile(600))
	card.fail = map[byte]error{0xb0: errTransmit}

	withReader(t, card, func(t *testing.T, r *CardReader, s *Session) {
		_, err := r.ReadFile(s, FileRequest{AID: testAID, FileID: testFID})
		assert.ErrorIs(t, err, ErrTransport)
		assert.Len(t, card.commands(), 3)
	})
}

func TestAuthErrorMessage(t *testing.T) {
	tests := []struct {
		code    iso.Code
		retries int
		msg     string
	}{
		{iso.Code{0x63, 0xc2}, 2, "verification failed (2 retries remaining)"},
		{iso.Code{0x63, 0xc1}, 1, "verification failed (1 retry remaining)"},
		{iso.Code{0x69, 0x83}, 0, "verification failed (PIN blocked)"},
		{iso.Code{0x6a, 0x88}, -1, "verification failed with status 6A88"},
	}

	for _, tc := range tests {
		err := authError(tc.code)
		assert.Equal(t, tc.retries, err.Retries)
		assert.EqualError(t, err, tc.msg)
		assert.ErrorIs(t, err, ErrAuthenticationFailed)
	}
}
