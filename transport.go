// SPDX-FileCopyrightText: 2020 Google LLC
// SPDX-License-Identifier: Apache-2.0

package ageverify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultLockTimeout bounds how long Open waits for a reader which is in use
// by another verification attempt.
const DefaultLockTimeout = 2 * time.Second

// maxGetResponse bounds the GET RESPONSE chain of a single command.
const maxGetResponse = 0x80

// Conn is a raw connection to a card as provided by a reader driver.
type Conn interface {
	// Transmit sends a command APDU and returns the response APDU including
	// the trailing status word.
	Transmit(req []byte) ([]byte, error)
	Close() error
}

// Driver provides access to the smart card readers of the system, e.g. via
// PC/SC. See the pcsc sub-package.
type Driver interface {
	Readers() ([]string, error)
	Connect(reader string) (Conn, error)
}

// Transport exchanges commands with a card over a Session.
type Transport interface {
	// Open connects to the card. It fails with ErrReaderUnavailable or ErrReaderBusy.
	Open(ctx context.Context) (*Session, error)

	// Exchange sends a command and returns the response. Status words are not
	// interpreted, a TransportError is returned for I/O faults only.
	Exchange(s *Session, cmd Command) (Response, error)

	// Close releases the session. It is safe to call on a closed session.
	Close(s *Session) error
}

// Session is a single connection to a card, owned by one verification attempt.
type Session struct {
	reader  string
	conn    Conn
	release func()

	mu     sync.Mutex
	closed bool
}

// NewSession wraps an established connection. The release function, if not
// nil, is called once when the session is closed.
func NewSession(reader string, conn Conn, release func()) *Session {
	return &Session{
		reader:  reader,
		conn:    conn,
		release: release,
	}
}

// Reader returns the name of the reader the session is connected through.
func (s *Session) Reader() string {
	return s.reader
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}

func (s *Session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	var err error
	if s.conn != nil {
		err = s.conn.Close()
	}

	if s.release != nil {
		s.release()
	}

	return err
}

// CardTransport is the Transport implementation on top of a Driver.
type CardTransport struct {
	Driver Driver

	// Reader selects the first reader whose name contains this string
	// (case-insensitive). If empty, the first reader is used.
	Reader string

	// LockTimeout bounds the wait for a reader in use by another attempt.
	// Defaults to DefaultLockTimeout.
	LockTimeout time.Duration

	locks readerLocks
}

// ListReaders returns the names of all connected readers.
func (t *CardTransport) ListReaders() ([]string, error) {
	readers, err := t.Driver.Readers()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list readers: %w", ErrReaderUnavailable, err)
	}

	return readers, nil
}

func (t *CardTransport) pickReader() (string, error) {
	readers, err := t.ListReaders()
	if err != nil {
		return "", err
	}

	want := strings.ToLower(t.Reader)
	for _, r := range readers {
		if strings.Contains(strings.ToLower(r), want) {
			return r, nil
		}
	}

	if t.Reader == "" {
		return "", fmt.Errorf("%w: no readers connected", ErrReaderUnavailable)
	}

	return "", fmt.Errorf("%w: no reader matching %q", ErrReaderUnavailable, t.Reader)
}

// Open selects a reader, acquires it exclusively and connects to the card.
func (t *CardTransport) Open(ctx context.Context) (*Session, error) {
	reader, err := t.pickReader()
	if err != nil {
		return nil, err
	}

	timeout := t.LockTimeout
	if timeout == 0 {
		timeout = DefaultLockTimeout
	}

	release, err := t.locks.acquire(ctx, reader, timeout)
	if err != nil {
		return nil, err
	}

	conn, err := t.Driver.Connect(reader)
	if err != nil {
		release()

		return nil, fmt.Errorf("%w: failed to connect to card: %w", ErrReaderUnavailable, err)
	}

	return NewSession(reader, conn, release), nil
}

// Exchange sends cmd to the card. A 61xx status is followed by GET RESPONSE
// until all data has been collected. A 6Cxx status resends the command once
// with the length indicated by the card.
func (t *CardTransport) Exchange(s *Session, cmd Command) (Response, error) {
	if s.Closed() {
		return Response{}, &TransportError{cmd.Name, errSessionClosed}
	}

	resp, err := t.transmit(s, cmd)
	if err != nil {
		return Response{}, err
	}

	if resp.SW[0] == 0x6c {
		if resp, err = t.transmit(s, cmd.withLe(leOf(resp.SW[1]))); err != nil {
			return Response{}, err
		}
	}

	data := resp.Data
	for i := 0; resp.SW[0] == 0x61; i++ {
		if i >= maxGetResponse {
			return Response{}, &StatusError{cmd.Name, resp.SW}
		}

		if resp, err = t.transmit(s, getResponse(leOf(resp.SW[1]))); err != nil {
			return Response{}, fmt.Errorf("failed to read further response: %w", err)
		}

		data = append(data, resp.Data...)
	}

	resp.Data = data

	return resp, nil
}

func (t *CardTransport) transmit(s *Session, cmd Command) (Response, error) {
	req, err := cmd.Bytes()
	if err != nil {
		return Response{}, &TransportError{cmd.Name, err}
	}

	b, err := s.conn.Transmit(req)
	if err != nil {
		return Response{}, &TransportError{cmd.Name, err}
	}

	resp, err := parseResponse(b)
	if err != nil {
		return Response{}, &TransportError{cmd.Name, err}
	}

	return resp, nil
}

// Close disconnects from the card and releases the reader.
func (t *CardTransport) Close(s *Session) error {
	if s == nil {
		return nil
	}

	if err := s.close(); err != nil {
		return &TransportError{"close", err}
	}

	return nil
}

// leOf decodes a length from a status byte, where 0x00 means 256.
func leOf(b byte) int {
	if b == 0 {
		return maxShortLe
	}

	return int(b)
}
