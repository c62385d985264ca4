package http3

import "sync"

// Predicate names a legality rule the Tracker can evaluate. Predicates are
// opt-in: the session applies only the ones a caller lists in a SendFrame
// enforce set, and applies none by default.
type Predicate string

const (
	// PredSettingsFirstOnControl: the first frame sent on a control stream
	// must be SETTINGS (RFC 9114 Section 6.2.1).
	PredSettingsFirstOnControl Predicate = "settings_is_first_frame_on_control_stream"
	// PredSingleControlStream: at most one local control stream exists
	// (RFC 9114 Section 6.2.1).
	PredSingleControlStream Predicate = "single_control_stream"
	// PredSingleSettingsFrame: at most one SETTINGS frame is sent per control
	// stream (RFC 9114 Section 7.2.4).
	PredSingleSettingsFrame Predicate = "single_settings_frame"
	// PredPushIDWithinBound: every referenced push ID stays within what was
	// announced. A PUSH_PROMISE or a push stream open must not exceed the
	// MAX_PUSH_ID bound (RFC 9114 Section 7.2.7), and a CANCEL_PUSH may only
	// reference a push ID that was actually promised (RFC 9114 Section 7.2.3).
	PredPushIDWithinBound Predicate = "push_id_within_announced_bound"
	// PredNoDataOnControl: DATA frames are forbidden on the control stream
	// (RFC 9114 Section 7.2.1).
	PredNoDataOnControl Predicate = "no_data_on_control_stream"
	// PredNoHeadersOnControl: HEADERS frames are forbidden on the control
	// stream (RFC 9114 Section 7.2.2).
	PredNoHeadersOnControl Predicate = "no_headers_on_control_stream"
	// PredClientDoesNotPush: clients never send PUSH_PROMISE and never open
	// push streams (RFC 9114 Sections 6.2.2 and 7.2.5).
	PredClientDoesNotPush Predicate = "client_does_not_push"
	// PredMaxPushIDOnControl: MAX_PUSH_ID belongs on the control stream only
	// (RFC 9114 Section 7.2.7).
	PredMaxPushIDOnControl Predicate = "max_push_id_on_control_stream"
	// PredGoAwayOnControl: GOAWAY belongs on the control stream only
	// (RFC 9114 Section 7.2.6).
	PredGoAwayOnControl Predicate = "goaway_on_control_stream"
)

// predicateFunc evaluates one rule against the tracker's recorded history.
// s and f describe a prospective send and may both be nil for a bare
// consistency check (Tracker.Check).
type predicateFunc func(t *Tracker, s *Stream, f *Frame) bool

var predicates = map[Predicate]predicateFunc{
	PredSettingsFirstOnControl: func(t *Tracker, s *Stream, f *Frame) bool {
		if s == nil || f == nil || s.Role != RoleControl {
			return true
		}
		if len(t.sent[s.ID]) == 0 {
			return f.Type == FrameSettings
		}
		return true
	},
	PredSingleControlStream: func(t *Tracker, s *Stream, f *Frame) bool {
		if s == nil {
			return t.localControlStreams <= 1
		}
		if s.Role != RoleControl || !s.Local {
			return true
		}
		if t.localControlStreams == 0 {
			return true
		}
		return s.ID == t.firstControlStreamID
	},
	PredSingleSettingsFrame: func(t *Tracker, s *Stream, f *Frame) bool {
		if s == nil || f == nil || f.Type != FrameSettings {
			return true
		}
		for _, sent := range t.sent[s.ID] {
			if sent == FrameSettings {
				return false
			}
		}
		return true
	},
	PredPushIDWithinBound: func(t *Tracker, s *Stream, f *Frame) bool {
		if f == nil {
			if s != nil && s.Local && s.Role == RolePush {
				return t.maxPushIDSet && s.PushID <= t.maxPushID
			}
			return true
		}
		switch f.Type {
		case FrameCancelPush:
			id, _, err := ReadVarint(f.Payload)
			if err != nil {
				return false
			}
			return t.promisedPushIDs[id]
		case FramePushPromise:
			id, _, err := ReadVarint(f.Payload)
			if err != nil {
				return false
			}
			return t.maxPushIDSet && id <= t.maxPushID
		}
		return true
	},
	PredNoDataOnControl: func(t *Tracker, s *Stream, f *Frame) bool {
		if s == nil || f == nil {
			return true
		}
		return !(s.Role == RoleControl && f.Type == FrameData)
	},
	PredNoHeadersOnControl: func(t *Tracker, s *Stream, f *Frame) bool {
		if s == nil || f == nil {
			return true
		}
		return !(s.Role == RoleControl && f.Type == FrameHeaders)
	},
	PredClientDoesNotPush: func(t *Tracker, s *Stream, f *Frame) bool {
		if t.perspective != PerspectiveClient {
			return true
		}
		if f != nil && f.Type == FramePushPromise {
			return false
		}
		if s != nil && s.Local && s.Role == RolePush {
			return false
		}
		return true
	},
	PredMaxPushIDOnControl: func(t *Tracker, s *Stream, f *Frame) bool {
		if s == nil || f == nil || f.Type != FrameMaxPushID {
			return true
		}
		return s.Role == RoleControl
	},
	PredGoAwayOnControl: func(t *Tracker, s *Stream, f *Frame) bool {
		if s == nil || f == nil || f.Type != FrameGoAway {
			return true
		}
		return s.Role == RoleControl
	},
}

// Predicates returns the names of all registered legality predicates, in no
// particular order.
func Predicates() []Predicate {
	names := make([]Predicate, 0, len(predicates))
	for name := range predicates {
		names = append(names, name)
	}
	return names
}

// Tracker records per-stream frame history and connection-level protocol
// state (control stream count, SETTINGS exchange, promised push IDs) for one
// session. It is pure bookkeeping: recording never rejects anything, and the
// predicates only judge state when explicitly asked to.
type Tracker struct {
	mu sync.Mutex

	perspective Perspective

	sent     map[uint64][]FrameType
	received map[uint64][]FrameType

	localControlStreams  int
	peerControlStreams   int
	firstControlStreamID uint64

	settingsSent     int
	settingsReceived int

	// promisedPushIDs holds push IDs the server has announced via
	// PUSH_PROMISE. maxPushID is the largest bound either side advertised
	// via MAX_PUSH_ID.
	promisedPushIDs map[uint64]bool
	maxPushID       uint64
	maxPushIDSet    bool
}

// NewTracker creates a Tracker for a session operating from the given
// perspective.
func NewTracker(p Perspective) *Tracker {
	return &Tracker{
		perspective:     p,
		sent:            make(map[uint64][]FrameType),
		received:        make(map[uint64][]FrameType),
		promisedPushIDs: make(map[uint64]bool),
	}
}

// Perspective returns the side of the connection this tracker serves.
func (t *Tracker) Perspective() Perspective {
	return t.perspective
}

// RegisterStream records a newly opened or newly classified stream. For
// control streams it maintains the per-side counts the predicates consult.
// Registering the same control stream twice is the caller's bug; the counts
// would double.
func (t *Tracker) RegisterStream(s *Stream) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s.Role != RoleControl {
		return
	}
	if s.Local {
		t.localControlStreams++
		if t.localControlStreams == 1 {
			t.firstControlStreamID = s.ID
		}
	} else {
		t.peerControlStreams++
	}
}

// RecordSent appends f's type to the stream's send history and updates
// connection-level state derived from outgoing frames.
func (t *Tracker) RecordSent(s *Stream, f Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent[s.ID] = append(t.sent[s.ID], f.Type)
	t.recordLocked(f, t.perspective == PerspectiveServer)
	if f.Type == FrameSettings {
		t.settingsSent++
	}
}

// RecordReceived appends f's type to the stream's receive history and
// updates connection-level state derived from incoming frames.
func (t *Tracker) RecordReceived(s *Stream, f Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.received[s.ID] = append(t.received[s.ID], f.Type)
	t.recordLocked(f, t.perspective == PerspectiveClient)
	if f.Type == FrameSettings {
		t.settingsReceived++
	}
}

// recordLocked folds a frame into the push bookkeeping. PUSH_PROMISE only
// announces a push ID when it comes from the server side (fromServer), which
// is the local side for a server session's sends and the remote side for a
// client session's receives.
func (t *Tracker) recordLocked(f Frame, fromServer bool) {
	switch f.Type {
	case FramePushPromise:
		if !fromServer {
			return
		}
		if id, _, err := ReadVarint(f.Payload); err == nil {
			t.promisedPushIDs[id] = true
		}
	case FrameMaxPushID:
		if id, _, err := ReadVarint(f.Payload); err == nil {
			if !t.maxPushIDSet || id > t.maxPushID {
				t.maxPushID = id
				t.maxPushIDSet = true
			}
		}
	}
}

// SentTypes returns a copy of the frame-type history sent on the stream.
func (t *Tracker) SentTypes(streamID uint64) []FrameType {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]FrameType(nil), t.sent[streamID]...)
}

// ReceivedTypes returns a copy of the frame-type history received on the
// stream.
func (t *Tracker) ReceivedTypes(streamID uint64) []FrameType {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]FrameType(nil), t.received[streamID]...)
}

// SettingsSent reports how many SETTINGS frames this side has sent.
func (t *Tracker) SettingsSent() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settingsSent
}

// SettingsReceived reports how many SETTINGS frames the peer has sent.
func (t *Tracker) SettingsReceived() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.settingsReceived
}

// PeerControlStreams reports how many control streams the peer has opened.
func (t *Tracker) PeerControlStreams() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peerControlStreams
}

// PushPromised reports whether the given push ID has been announced by the
// server via PUSH_PROMISE.
func (t *Tracker) PushPromised(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.promisedPushIDs[id]
}

// MaxPushID returns the highest MAX_PUSH_ID bound seen on the connection and
// whether one has been seen at all.
func (t *Tracker) MaxPushID() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxPushID, t.maxPushIDSet
}

// Evaluate judges whether sending f on s would satisfy the named predicate.
// Both s and f may be nil, in which case only connection-level state is
// judged. An unregistered predicate name yields UnknownPredicateError.
func (t *Tracker) Evaluate(p Predicate, s *Stream, f *Frame) (bool, error) {
	fn, ok := predicates[p]
	if !ok {
		return false, &UnknownPredicateError{Name: p}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(t, s, f), nil
}

// Check evaluates a predicate against connection-level state alone. It is
// Evaluate with no prospective send.
func (t *Tracker) Check(p Predicate) (bool, error) {
	return t.Evaluate(p, nil, nil)
}
