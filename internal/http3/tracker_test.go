package http3

import (
	"errors"
	"testing"
)

func controlStream(id uint64, local bool) *Stream {
	return &Stream{ID: id, Dir: DirUni, Local: local, Role: RoleControl, DeclaredType: StreamTypeControl}
}

func requestStream(id uint64) *Stream {
	return &Stream{ID: id, Dir: DirBidi, Local: true, Role: RoleRequest}
}

func mustEvaluate(t *testing.T, tr *Tracker, p Predicate, s *Stream, f *Frame) bool {
	t.Helper()
	ok, err := tr.Evaluate(p, s, f)
	if err != nil {
		t.Fatalf("Evaluate(%s): %v", p, err)
	}
	return ok
}

func TestPredSettingsFirstOnControl(t *testing.T) {
	tr := NewTracker(PerspectiveClient)
	ctrl := controlStream(2, true)
	tr.RegisterStream(ctrl)

	data := &Frame{Type: FrameData}
	settings := &Frame{Type: FrameSettings}

	if mustEvaluate(t, tr, PredSettingsFirstOnControl, ctrl, data) {
		t.Error("DATA as first control frame passed")
	}
	if !mustEvaluate(t, tr, PredSettingsFirstOnControl, ctrl, settings) {
		t.Error("SETTINGS as first control frame failed")
	}

	tr.RecordSent(ctrl, Frame{Type: FrameSettings})
	// Once the first frame is down, later frame types are this predicate's
	// problem no longer.
	if !mustEvaluate(t, tr, PredSettingsFirstOnControl, ctrl, &Frame{Type: FrameGoAway}) {
		t.Error("GOAWAY after SETTINGS failed")
	}

	// The rule does not constrain request streams.
	if !mustEvaluate(t, tr, PredSettingsFirstOnControl, requestStream(0), data) {
		t.Error("DATA on request stream failed settings-first check")
	}
}

func TestPredSingleSettingsFrame(t *testing.T) {
	tr := NewTracker(PerspectiveClient)
	ctrl := controlStream(2, true)
	tr.RegisterStream(ctrl)

	settings := &Frame{Type: FrameSettings}
	if !mustEvaluate(t, tr, PredSingleSettingsFrame, ctrl, settings) {
		t.Error("first SETTINGS failed")
	}
	tr.RecordSent(ctrl, *settings)
	if mustEvaluate(t, tr, PredSingleSettingsFrame, ctrl, settings) {
		t.Error("second SETTINGS passed")
	}
	if !mustEvaluate(t, tr, PredSingleSettingsFrame, ctrl, &Frame{Type: FrameGoAway}) {
		t.Error("non-SETTINGS frame tripped the single-settings check")
	}
}

func TestPredSingleControlStream(t *testing.T) {
	tr := NewTracker(PerspectiveClient)

	first := controlStream(2, true)
	if !mustEvaluate(t, tr, PredSingleControlStream, first, nil) {
		t.Error("first control stream failed")
	}
	tr.RegisterStream(first)

	second := controlStream(6, true)
	if mustEvaluate(t, tr, PredSingleControlStream, second, nil) {
		t.Error("second control stream passed")
	}
	if !mustEvaluate(t, tr, PredSingleControlStream, first, nil) {
		t.Error("original control stream failed after registration")
	}

	if ok, err := tr.Check(PredSingleControlStream); err != nil || !ok {
		t.Errorf("Check with one control stream: ok=%v err=%v", ok, err)
	}
	tr.RegisterStream(second)
	if ok, _ := tr.Check(PredSingleControlStream); ok {
		t.Error("Check passed with two local control streams")
	}
}

func TestPredControlStreamFrameTypes(t *testing.T) {
	tr := NewTracker(PerspectiveClient)
	ctrl := controlStream(2, true)
	req := requestStream(0)
	tr.RegisterStream(ctrl)

	if mustEvaluate(t, tr, PredNoDataOnControl, ctrl, &Frame{Type: FrameData}) {
		t.Error("DATA on control stream passed")
	}
	if !mustEvaluate(t, tr, PredNoDataOnControl, req, &Frame{Type: FrameData}) {
		t.Error("DATA on request stream failed")
	}
	if mustEvaluate(t, tr, PredNoHeadersOnControl, ctrl, &Frame{Type: FrameHeaders}) {
		t.Error("HEADERS on control stream passed")
	}
	if mustEvaluate(t, tr, PredGoAwayOnControl, req, &Frame{Type: FrameGoAway}) {
		t.Error("GOAWAY on request stream passed")
	}
	if !mustEvaluate(t, tr, PredGoAwayOnControl, ctrl, &Frame{Type: FrameGoAway}) {
		t.Error("GOAWAY on control stream failed")
	}
	if mustEvaluate(t, tr, PredMaxPushIDOnControl, req, &Frame{Type: FrameMaxPushID, Payload: AppendVarint(nil, 4)}) {
		t.Error("MAX_PUSH_ID on request stream passed")
	}
}

func TestPredPushIDWithinBound(t *testing.T) {
	tr := NewTracker(PerspectiveClient)
	ctrl := controlStream(2, true)
	tr.RegisterStream(ctrl)

	cancel := &Frame{Type: FrameCancelPush, Payload: AppendVarint(nil, 3)}
	if mustEvaluate(t, tr, PredPushIDWithinBound, ctrl, cancel) {
		t.Error("CANCEL_PUSH for unannounced push ID passed")
	}

	// A PUSH_PROMISE received from the server announces the push ID.
	promise := Frame{Type: FramePushPromise, Payload: AppendVarint(nil, 3)}
	tr.RecordReceived(requestStream(0), promise)
	if !tr.PushPromised(3) {
		t.Fatal("push ID 3 not recorded as promised")
	}
	if !mustEvaluate(t, tr, PredPushIDWithinBound, ctrl, cancel) {
		t.Error("CANCEL_PUSH for announced push ID failed")
	}
}

func TestPredPushIDWithinBoundHonorsMaxPushID(t *testing.T) {
	tr := NewTracker(PerspectiveServer)
	ctrl := controlStream(3, false)
	tr.RegisterStream(ctrl)

	promise := &Frame{Type: FramePushPromise, Payload: AppendVarint(nil, 0)}
	if mustEvaluate(t, tr, PredPushIDWithinBound, requestStream(0), promise) {
		t.Error("PUSH_PROMISE before any MAX_PUSH_ID passed")
	}

	tr.RecordReceived(ctrl, Frame{Type: FrameMaxPushID, Payload: AppendVarint(nil, 4)})
	if !mustEvaluate(t, tr, PredPushIDWithinBound, requestStream(0), promise) {
		t.Error("PUSH_PROMISE within the announced bound failed")
	}
	beyond := &Frame{Type: FramePushPromise, Payload: AppendVarint(nil, 5)}
	if mustEvaluate(t, tr, PredPushIDWithinBound, requestStream(0), beyond) {
		t.Error("PUSH_PROMISE beyond the announced bound passed")
	}

	within := &Stream{ID: 3, Dir: DirUni, Local: true, Role: RolePush, DeclaredType: StreamTypePush, PushID: 4}
	if !mustEvaluate(t, tr, PredPushIDWithinBound, within, nil) {
		t.Error("push stream within the announced bound failed")
	}
	outside := &Stream{ID: 7, Dir: DirUni, Local: true, Role: RolePush, DeclaredType: StreamTypePush, PushID: 5}
	if mustEvaluate(t, tr, PredPushIDWithinBound, outside, nil) {
		t.Error("push stream beyond the announced bound passed")
	}
}

func TestPushPromiseDirectionality(t *testing.T) {
	// A client sending PUSH_PROMISE (itself a violation) announces nothing.
	tr := NewTracker(PerspectiveClient)
	tr.RecordSent(requestStream(0), Frame{Type: FramePushPromise, Payload: AppendVarint(nil, 7)})
	if tr.PushPromised(7) {
		t.Error("client-sent PUSH_PROMISE recorded as a server announcement")
	}

	// On the server side, sending PUSH_PROMISE is the announcement.
	srv := NewTracker(PerspectiveServer)
	srv.RecordSent(requestStream(0), Frame{Type: FramePushPromise, Payload: AppendVarint(nil, 7)})
	if !srv.PushPromised(7) {
		t.Error("server-sent PUSH_PROMISE not recorded")
	}
}

func TestPredClientDoesNotPush(t *testing.T) {
	client := NewTracker(PerspectiveClient)
	if mustEvaluate(t, client, PredClientDoesNotPush, nil, &Frame{Type: FramePushPromise}) {
		t.Error("client PUSH_PROMISE passed")
	}
	push := &Stream{ID: 2, Dir: DirUni, Local: true, Role: RolePush, DeclaredType: StreamTypePush}
	if mustEvaluate(t, client, PredClientDoesNotPush, push, nil) {
		t.Error("client push stream passed")
	}

	server := NewTracker(PerspectiveServer)
	if !mustEvaluate(t, server, PredClientDoesNotPush, push, &Frame{Type: FramePushPromise}) {
		t.Error("server push failed")
	}
}

func TestMaxPushIDTracking(t *testing.T) {
	tr := NewTracker(PerspectiveServer)
	if _, ok := tr.MaxPushID(); ok {
		t.Fatal("MaxPushID set before any MAX_PUSH_ID frame")
	}
	ctrl := controlStream(3, false)
	tr.RegisterStream(ctrl)
	tr.RecordReceived(ctrl, Frame{Type: FrameMaxPushID, Payload: AppendVarint(nil, 8)})
	tr.RecordReceived(ctrl, Frame{Type: FrameMaxPushID, Payload: AppendVarint(nil, 4)})
	id, ok := tr.MaxPushID()
	if !ok || id != 8 {
		t.Errorf("MaxPushID: got (%d, %v), want (8, true)", id, ok)
	}
}

func TestFrameHistories(t *testing.T) {
	tr := NewTracker(PerspectiveClient)
	req := requestStream(0)
	tr.RecordSent(req, Frame{Type: FrameHeaders})
	tr.RecordSent(req, Frame{Type: FrameData})
	tr.RecordReceived(req, Frame{Type: FrameHeaders})

	sent := tr.SentTypes(0)
	if len(sent) != 2 || sent[0] != FrameHeaders || sent[1] != FrameData {
		t.Errorf("SentTypes: got %v", sent)
	}
	if got := tr.ReceivedTypes(0); len(got) != 1 || got[0] != FrameHeaders {
		t.Errorf("ReceivedTypes: got %v", got)
	}
	if got := tr.SentTypes(99); len(got) != 0 {
		t.Errorf("SentTypes for unseen stream: got %v", got)
	}
}

func TestUnknownPredicate(t *testing.T) {
	tr := NewTracker(PerspectiveClient)
	_, err := tr.Check(Predicate("frames_are_polite"))
	var uerr *UnknownPredicateError
	if !errors.As(err, &uerr) {
		t.Fatalf("got %v, want UnknownPredicateError", err)
	}
}

func TestPredicatesRegistry(t *testing.T) {
	names := Predicates()
	if len(names) != 9 {
		t.Fatalf("got %d predicates, want 9", len(names))
	}
	for _, name := range names {
		tr := NewTracker(PerspectiveServer)
		if _, err := tr.Check(name); err != nil {
			t.Errorf("Check(%s): %v", name, err)
		}
	}
}
