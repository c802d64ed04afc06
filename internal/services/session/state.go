package session

import (
	"fmt"

	"github.com/snapncook/snapclient/internal/auth"
)

type State int

const (
	// StateUnknown is only observable before Bootstrap resolves.
	StateUnknown State = iota
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "authenticated":
		*s = StateAuthenticated
	case "anonymous":
		*s = StateAnonymous
	case "unknown":
		*s = StateUnknown
	default:
		return fmt.Errorf("unknown session state %q", b)
	}
	return nil
}

// Snapshot is the observable session tuple.
type Snapshot struct {
	State           State      `json:"state"`
	IsAuthenticated bool       `json:"is_authenticated"`
	User            *auth.User `json:"user,omitempty"`
	Loading         bool       `json:"loading"`
	// RedirectTo is set when the session ended in a way the UI must react
	// to, e.g. "/login" after a rejected refresh.
	RedirectTo string `json:"redirect_to,omitempty"`
}

// subscribers delivers the latest snapshot to each listener without ever
// blocking the publisher.
type subscribers struct {
	next int
	subs map[int]chan Snapshot
}

func (s *subscribers) add(initial Snapshot) (int, chan Snapshot) {
	if s.subs == nil {
		s.subs = make(map[int]chan Snapshot)
	}
	ch := make(chan Snapshot, 1)
	ch <- initial
	id := s.next
	s.next++
	s.subs[id] = ch
	return id, ch
}

func (s *subscribers) remove(id int) {
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *subscribers) publish(snap Snapshot) {
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
