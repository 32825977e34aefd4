package txn

import "github.com/xraph/stockpile/id"

// Scope is the caller's handle on an open frame. It stays valid (and
// reports ErrScopeClosed) after the frame it named has been reused.
type Scope struct {
	frame *Frame
	gen   uint64
}

func (s *Scope) live() (*Frame, error) {
	if s == nil || s.frame.gen != s.gen {
		return nil, ErrScopeClosed
	}
	return s.frame, nil
}

// IsOpen reports whether the scope has not been closed yet.
func (s *Scope) IsOpen() bool {
	_, err := s.live()
	return err == nil
}

// ID returns the scope identifier, or id.Nil once closed.
func (s *Scope) ID() id.ScopeID {
	f, err := s.live()
	if err != nil {
		return id.Nil
	}
	return f.ID()
}

// Depth returns 0 for an outermost scope, or -1 once closed.
func (s *Scope) Depth() int {
	f, err := s.live()
	if err != nil {
		return -1
	}
	return f.depth
}

// Enlist adds p to the scope. Enlisting an already enlisted participant is
// a no-op. Only the innermost open scope accepts participants.
func (s *Scope) Enlist(p Participant) error {
	f, err := s.live()
	if err != nil {
		return err
	}
	if f.coord.top() != f {
		return ErrScopeNotCurrent
	}
	return f.enlist(p)
}

// Stash stores per-scope state for an enlisted participant.
func (s *Scope) Stash(p Participant, v any) error {
	f, err := s.live()
	if err != nil {
		return err
	}
	f.Stash(p, v)
	return nil
}

// Stashed returns state stored with Stash.
func (s *Scope) Stashed(p Participant) (any, bool) {
	f, err := s.live()
	if err != nil {
		return nil, false
	}
	return f.Stashed(p)
}

// Commit closes the scope keeping its changes.
func (s *Scope) Commit() error {
	if s == nil {
		return ErrScopeClosed
	}
	return s.frame.coord.close(s, true)
}

// Rollback closes the scope undoing its changes.
func (s *Scope) Rollback() error {
	if s == nil {
		return ErrScopeClosed
	}
	return s.frame.coord.close(s, false)
}

// Close rolls the scope back if it is still open and is a no-op otherwise.
// Scopes nested inside it that were never closed are rolled back first.
// Deferring Close right after Open gives commit-or-rollback on every exit
// path, panics included.
func (s *Scope) Close() error {
	if !s.IsOpen() {
		return nil
	}
	return s.Rollback()
}

// Coordinator returns the coordinator that opened the scope.
func (s *Scope) Coordinator() *Coordinator {
	if s == nil {
		return nil
	}
	return s.frame.coord
}
