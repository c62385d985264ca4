package scenario

import (
	"context"

	"example.com/h3probe/internal/http3"
)

func init() {
	Register(Scenario{
		ID:        "request/data-before-headers",
		Name:      "send DATA before HEADERS on a request stream",
		Violation: "a DATA frame precedes the HEADERS frame",
		Rule:      "RFC 9114 Section 4.1",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			if _, err := openConformant(s); err != nil {
				return nil, err
			}
			req, err := s.OpenRequestStream()
			if err != nil {
				return nil, err
			}
			return req, s.SendData(req, []byte("body before any headers"))
		},
	})

	Register(Scenario{
		ID:        "request/goaway-on-request-stream",
		Name:      "send GOAWAY on a request stream",
		Violation: "GOAWAY appears off the control stream",
		Rule:      "RFC 9114 Section 7.2.6",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			if _, err := openConformant(s); err != nil {
				return nil, err
			}
			req, err := s.OpenRequestStream()
			if err != nil {
				return nil, err
			}
			return req, s.SendGoAway(req, 0)
		},
	})

	Register(Scenario{
		ID:        "request/settings-on-request-stream",
		Name:      "send SETTINGS on a request stream",
		Violation: "SETTINGS appears off the control stream",
		Rule:      "RFC 9114 Section 7.2.4",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			if _, err := openConformant(s); err != nil {
				return nil, err
			}
			req, err := s.OpenRequestStream()
			if err != nil {
				return nil, err
			}
			return req, s.SendSettings(req, http3.DefaultSettings())
		},
	})

	Register(Scenario{
		ID:        "request/reserved-frame-type",
		Name:      "send a reserved HTTP/2 frame type",
		Violation: "a frame with the reserved type 0x6 (HTTP/2 PING) is sent",
		Rule:      "RFC 9114 Section 11.2.1",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			if _, err := openConformant(s); err != nil {
				return nil, err
			}
			req, err := s.OpenRequestStream()
			if err != nil {
				return nil, err
			}
			return req, s.SendFrame(req, http3.Frame{
				Type:    http3.FramePingReserved,
				Payload: []byte{0, 0, 0, 0, 0, 0, 0, 0},
			})
		},
	})
}
