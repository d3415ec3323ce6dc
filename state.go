// SPDX-FileCopyrightText: 2024 Steffen Vogel <post@steffenvogel.de>
// SPDX-License-Identifier: Apache-2.0

package ageverify

import "strings"

// State is a step of a verification attempt.
type State int

// States of a verification attempt.
//
// A successful attempt passes Start, Connected, Authenticated (only if a PIN
// is verified), DataRead, Extracted, Evaluated, Notified and Done. A failure
// in any step before Notified moves the attempt to Aborted, from where it is
// still Notified and Done.
const (
	StateStart State = iota
	StateConnected
	StateAuthenticated
	StateDataRead
	StateExtracted
	StateEvaluated
	StateAborted
	StateNotified
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateDataRead:
		return "data_read"
	case StateExtracted:
		return "extracted"
	case StateEvaluated:
		return "evaluated"
	case StateAborted:
		return "aborted"
	case StateNotified:
		return "notified"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Path is the sequence of states an attempt went through.
type Path []State

// Contains reports whether the attempt went through state s.
func (p Path) Contains(s State) bool {
	for _, t := range p {
		if t == s {
			return true
		}
	}

	return false
}

// Last returns the final state of the path.
func (p Path) Last() State {
	if len(p) == 0 {
		return StateStart
	}

	return p[len(p)-1]
}

func (p Path) String() string {
	ss := make([]string, 0, len(p))
	for _, s := range p {
		ss = append(ss, s.String())
	}

	return strings.Join(ss, ">")
}
