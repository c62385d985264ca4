package scenario

import (
	"context"

	"example.com/h3probe/internal/http3"
)

func init() {
	Register(Scenario{
		ID:        "push/cancel-push-unannounced",
		Name:      "CANCEL_PUSH for a push ID never promised",
		Violation: "CANCEL_PUSH references a push ID outside anything announced",
		Rule:      "RFC 9114 Section 7.2.3",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			ctrl, err := openConformant(s)
			if err != nil {
				return nil, err
			}
			return nil, s.SendCancelPush(ctrl, 3)
		},
	})

	Register(Scenario{
		ID:        "push/client-push-promise",
		Name:      "client sends PUSH_PROMISE",
		Violation: "PUSH_PROMISE sent by a client",
		Rule:      "RFC 9114 Section 7.2.5",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			if _, err := openConformant(s); err != nil {
				return nil, err
			}
			req, err := s.OpenRequestStream()
			if err != nil {
				return nil, err
			}
			return req, s.SendPushPromise(req, 0, []http3.HeaderField{
				{Name: ":method", Value: "GET"},
				{Name: ":path", Value: "/pushed"},
			})
		},
	})

	Register(Scenario{
		ID:        "push/client-push-stream",
		Name:      "client opens a push stream",
		Violation: "a client-initiated unidirectional stream declares the push type",
		Rule:      "RFC 9114 Section 6.2.2",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			if _, err := openConformant(s); err != nil {
				return nil, err
			}
			_, err := s.OpenPushStream(0)
			return nil, err
		},
	})
}
