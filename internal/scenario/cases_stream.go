package scenario

import (
	"context"

	"example.com/h3probe/internal/http3"
)

func init() {
	Register(Scenario{
		ID:        "stream/unknown-stream-type",
		Name:      "open a unidirectional stream with an unknown type",
		Violation: "", // legal traffic; a conformant target must tolerate it
		Rule:      "RFC 9114 Section 9",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			if _, err := openConformant(s); err != nil {
				return nil, err
			}
			unknown, err := s.OpenUniStream(http3.StreamTypeID(0x5555))
			if err != nil {
				return nil, err
			}
			if err := s.SendRawStreamBytes(unknown, []byte("opaque bytes the target must ignore")); err != nil {
				return nil, err
			}
			// A normal request afterwards shows whether the target kept the
			// connection healthy instead of choking on the unknown stream.
			return sendRequest(s, "GET", "/", nil)
		},
	})
}
