package txn

// RollbackFunc settles a participant's work when its frame closes.
// f is the frame being closed; committed reports whether it committed.
//
// A callback may be invoked with committed=true more than once over a
// participant's lifetime (once per nested frame it folds into) but exactly
// once per PrepareRollback call.
type RollbackFunc func(f *Frame, committed bool)

// Participant is anything whose state a scope must be able to undo.
//
// PrepareRollback is called the first time the participant is enlisted in
// a frame. Implementations capture whatever they need to restore the
// current state (a snapshot, or a journal token) and return the callback
// that commits or restores it. Participants are used as map keys, so
// implementations must be comparable (pointer types in practice).
type Participant interface {
	PrepareRollback(f *Frame) RollbackFunc
}
