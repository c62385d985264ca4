package scenario

import (
	"context"

	"example.com/h3probe/internal/http3"
)

func init() {
	Register(Scenario{
		ID:        "control/second-control-stream",
		Name:      "open a second control stream",
		Violation: "an endpoint opens more than one control stream",
		Rule:      "RFC 9114 Section 6.2.1",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			if _, err := openConformant(s); err != nil {
				return nil, err
			}
			second, err := s.OpenControlStream()
			if err != nil {
				return nil, err
			}
			return nil, s.SendSettings(second, http3.DefaultSettings())
		},
	})

	Register(Scenario{
		ID:        "control/second-settings",
		Name:      "send SETTINGS twice on the control stream",
		Violation: "more than one SETTINGS frame on a connection",
		Rule:      "RFC 9114 Section 7.2.4",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			ctrl, err := openConformant(s)
			if err != nil {
				return nil, err
			}
			return nil, s.SendSettings(ctrl, http3.DefaultSettings())
		},
	})

	Register(Scenario{
		ID:        "control/missing-settings",
		Name:      "first control frame is not SETTINGS",
		Violation: "control stream opens with GOAWAY instead of SETTINGS",
		Rule:      "RFC 9114 Section 6.2.1",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			ctrl, err := s.OpenControlStream()
			if err != nil {
				return nil, err
			}
			return nil, s.SendGoAway(ctrl, 0)
		},
	})

	Register(Scenario{
		ID:        "control/data-on-control-stream",
		Name:      "send DATA on the control stream",
		Violation: "DATA frame on the control stream",
		Rule:      "RFC 9114 Section 7.2.1",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			ctrl, err := openConformant(s)
			if err != nil {
				return nil, err
			}
			return nil, s.SendData(ctrl, []byte("data has no business here"))
		},
	})

	Register(Scenario{
		ID:        "control/headers-on-control-stream",
		Name:      "send HEADERS on the control stream",
		Violation: "HEADERS frame on the control stream",
		Rule:      "RFC 9114 Section 7.2.2",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			ctrl, err := openConformant(s)
			if err != nil {
				return nil, err
			}
			return nil, s.SendHeaders(ctrl, []http3.HeaderField{
				{Name: ":method", Value: "GET"},
				{Name: ":path", Value: "/"},
			})
		},
	})

	Register(Scenario{
		ID:        "control/duplicate-settings-ids",
		Name:      "SETTINGS with a duplicated identifier",
		Violation: "the same setting identifier appears twice in one SETTINGS frame",
		Rule:      "RFC 9114 Section 7.2.4",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			ctrl, err := s.OpenControlStream()
			if err != nil {
				return nil, err
			}
			return nil, s.SendSettings(ctrl, []http3.Setting{
				{ID: http3.SettingQPACKMaxTableCapacity, Value: 0},
				{ID: http3.SettingQPACKMaxTableCapacity, Value: 4096},
			})
		},
	})

	Register(Scenario{
		ID:        "control/reserved-setting-id",
		Name:      "SETTINGS with a reserved HTTP/2 identifier",
		Violation: "a reserved setting identifier (0x2) is sent",
		Rule:      "RFC 9114 Section 7.2.4.1",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			ctrl, err := s.OpenControlStream()
			if err != nil {
				return nil, err
			}
			return nil, s.SendSettings(ctrl, []http3.Setting{
				{ID: 0x2, Value: 1},
				{ID: http3.SettingQPACKMaxTableCapacity, Value: 0},
			})
		},
	})
}
