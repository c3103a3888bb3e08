package gemini

import (
	"fmt"
	"sync"
)

// ConversationState threads the three opaque identifiers that let the service
// associate a new turn with a prior exchange: conversation id (cid),
// last-response id (rid), and chosen-candidate id (rcid). A fresh conversation
// has all three unset; after the first successful turn all three are set
// together from the same response and are replaced wholesale on every advance.
// They are never mixed across turns.
//
// turnMu serializes whole turns against the same conversation: turn N+1 must
// not read the identifiers until turn N's advance has completed. mu guards
// the fields themselves for cheap reads by observers.
type ConversationState struct {
	turnMu sync.Mutex
	mu     sync.Mutex
	cid    string
	rid    string
	rcid   string
}

// NewConversationState returns a fresh state with no identifiers.
func NewConversationState() *ConversationState { return &ConversationState{} }

// RestoredState rebuilds a state from a persisted identifier triple.
func RestoredState(cid, rid, rcid string) *ConversationState {
	return &ConversationState{cid: cid, rid: rid, rcid: rcid}
}

// IsFresh reports whether the conversation has no identifiers yet.
func (s *ConversationState) IsFresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cid == "" && s.rid == "" && s.rcid == ""
}

// Triple returns the current identifiers.
func (s *ConversationState) Triple() (cid, rid, rcid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cid, s.rid, s.rcid
}

// Metadata returns the identifiers as a slice for persistence.
func (s *ConversationState) Metadata() []string {
	cid, rid, rcid := s.Triple()
	return []string{cid, rid, rcid}
}

// Advance replaces all three identifiers atomically from a decoded result.
// Partial merges are not permitted: an output missing any identifier is
// rejected and the prior state is kept.
func (s *ConversationState) Advance(output *ModelOutput) error {
	if output == nil || len(output.Metadata) < 2 {
		return &ParseError{Msg: "decoded result is missing conversation metadata"}
	}
	cid, rid := output.Metadata[0], output.Metadata[1]
	rcid := output.RCID()
	if cid == "" || rid == "" || rcid == "" {
		return &ParseError{Msg: "decoded result carries an incomplete identifier triple"}
	}
	s.mu.Lock()
	s.cid, s.rid, s.rcid = cid, rid, rcid
	s.mu.Unlock()
	return nil
}

// Reset clears all identifiers, forcing the next turn to start a fresh
// conversation.
func (s *ConversationState) Reset() {
	s.mu.Lock()
	s.cid, s.rid, s.rcid = "", "", ""
	s.mu.Unlock()
}

func (s *ConversationState) String() string {
	cid, rid, rcid := s.Triple()
	return fmt.Sprintf("ConversationState(cid='%s', rid='%s', rcid='%s')", cid, rid, rcid)
}

// beginTurn serializes a full turn; held across send+advance so concurrent
// sends against the same conversation cannot interleave identifier updates.
func (s *ConversationState) beginTurn() { s.turnMu.Lock() }
func (s *ConversationState) endTurn()   { s.turnMu.Unlock() }
