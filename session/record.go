package session

// MaxPreviousStates bounds how many archived SessionStates a Record
// keeps.
const MaxPreviousStates = 40

// Record is a SessionRecord: exactly one current State plus
// a bounded stack of previous states. Decrypt attempts try current
// then history, in order.
type Record struct {
	Current  *State
	Previous []*State
}

// NewRecord starts a fresh, receive-capable Record with no current
// sender chain.
func NewRecord() *Record {
	return &Record{Current: &State{}}
}

// HasSessionState reports whether the current state or any archived
// state already used the given version and alice base key — used by
// the responder to detect and short-circuit a retransmitted
// PreKeySignalMessage.
func (r *Record) HasSessionState(version uint8, aliceBaseKey [32]byte) bool {
	check := func(s *State) bool {
		return s.Version == version && s.HasAliceBaseKey && s.AliceBaseKey == aliceBaseKey
	}
	if r.Current != nil && check(r.Current) {
		return true
	}
	for _, s := range r.Previous {
		if check(s) {
			return true
		}
	}
	return false
}

// IsFresh reports whether the current state has never had a sender
// chain installed.
func (r *Record) IsFresh() bool {
	return r.Current == nil || !r.Current.HasSenderChain
}

// ArchiveCurrentState moves the current state onto the previous-states
// stack, clearing its pending pre-key, and installs a fresh state as
// current, carrying over
// the identities and registration ids that stay fixed for the life of
// the session.
func (r *Record) ArchiveCurrentState() {
	next := &State{}
	if r.Current != nil {
		next.LocalIdentity = r.Current.LocalIdentity
		next.RemoteIdentity = r.Current.RemoteIdentity
		next.LocalRegistrationID = r.Current.LocalRegistrationID
		next.RemoteRegistrationID = r.Current.RemoteRegistrationID
		r.archive(r.Current)
	}
	r.Current = next
}

// States returns current (if any) followed by history, the fixed
// order Decrypt searches in.
func (r *Record) States() []*State {
	out := make([]*State, 0, 1+len(r.Previous))
	if r.Current != nil {
		out = append(out, r.Current)
	}
	out = append(out, r.Previous...)
	return out
}

// archive pushes s onto the previous-states stack, clearing its
// pending pre-key first.
func (r *Record) archive(s *State) {
	s.HasPendingPreKey = false
	s.PendingPreKey = PendingPreKey{}
	r.Previous = append([]*State{s}, r.Previous...)
	if len(r.Previous) > MaxPreviousStates {
		r.Previous = r.Previous[:MaxPreviousStates]
	}
}

// CommitCurrent installs the successfully advanced clone of the
// current state. The pre-advance snapshot it descends from is
// discarded, never archived: the clone carries every receiver chain
// and consumed-key fact forward, while the snapshot could re-derive a
// message key that was just consumed. Only a genuine DH-ratchet step
// archives the superseded state, and that state is the fully advanced
// one the record was holding, not a pre-advance copy.
func (r *Record) CommitCurrent(clone *State, ratcheted bool) {
	if ratcheted && r.Current != nil {
		r.archive(r.Current)
	}
	r.Current = clone
}

// PromoteFromHistory installs the successfully advanced clone of
// Previous[i] as current: the matched historical entry is removed
// outright (the clone supersedes it, pre-advance snapshots are never
// kept), and the state that was current is archived.
func (r *Record) PromoteFromHistory(i int, clone *State) {
	r.Previous = append(r.Previous[:i], r.Previous[i+1:]...)
	if r.Current != nil {
		r.archive(r.Current)
	}
	r.Current = clone
}
