package scenario

import (
	"context"

	"example.com/h3probe/internal/http3"
)

// Baselines break nothing. They establish that the target answers a
// conformant exchange at all, so violation outcomes can be read against a
// working connection rather than a dead one.

func init() {
	Register(Scenario{
		ID:   "baseline/root-fetch",
		Name: "conformant GET /",
		Rule: "RFC 9114 Section 4.1",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			if _, err := openConformant(s); err != nil {
				return nil, err
			}
			return sendRequest(s, "GET", "/", nil)
		},
	})

	Register(Scenario{
		ID:   "baseline/echo",
		Name: "conformant POST with request body",
		Rule: "RFC 9114 Section 4.1",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			if _, err := openConformant(s); err != nil {
				return nil, err
			}
			return sendRequest(s, "POST", "/echo", []byte("h3probe baseline payload"))
		},
	})
}
