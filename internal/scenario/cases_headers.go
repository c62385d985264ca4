package scenario

import (
	"context"

	"example.com/h3probe/internal/http3"
)

// sendLiteralRequest writes one HEADERS frame built from byte-exact literal
// field lines and finishes the stream. The literal encoding keeps names and
// values on the wire exactly as given, invalid bytes included.
func sendLiteralRequest(s *http3.Session, fields []http3.HeaderField) (*http3.Stream, error) {
	req, err := s.OpenRequestStream()
	if err != nil {
		return nil, err
	}
	block := http3.EncodeHeadersLiteral(fields)
	if err := s.SendFrame(req, http3.Frame{Type: http3.FrameHeaders, Payload: block}); err != nil {
		return nil, err
	}
	if err := s.CloseStream(req); err != nil {
		return nil, err
	}
	return req, nil
}

func init() {
	Register(Scenario{
		ID:        "headers/missing-method",
		Name:      "omit the :method pseudo-header from a request",
		Violation: "the request carries no :method pseudo-header",
		Rule:      "RFC 9114 Section 4.3.1",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			if _, err := openConformant(s); err != nil {
				return nil, err
			}
			return sendLiteralRequest(s, []http3.HeaderField{
				{Name: ":scheme", Value: "https"},
				{Name: ":authority", Value: "target"},
				{Name: ":path", Value: "/"},
			})
		},
	})

	Register(Scenario{
		ID:        "headers/uppercase-field-name",
		Name:      "send a field name containing uppercase characters",
		Violation: "a field name is not lowercase on the wire",
		Rule:      "RFC 9114 Section 4.2",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			if _, err := openConformant(s); err != nil {
				return nil, err
			}
			return sendLiteralRequest(s, []http3.HeaderField{
				{Name: ":method", Value: "GET"},
				{Name: ":scheme", Value: "https"},
				{Name: ":authority", Value: "target"},
				{Name: ":path", Value: "/"},
				{Name: "X-Probe", Value: "1"},
			})
		},
	})

	Register(Scenario{
		ID:        "headers/transfer-encoding",
		Name:      "send the connection-specific transfer-encoding field",
		Violation: "a connection-specific field appears in an HTTP/3 request",
		Rule:      "RFC 9114 Section 4.2",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			if _, err := openConformant(s); err != nil {
				return nil, err
			}
			return sendLiteralRequest(s, []http3.HeaderField{
				{Name: ":method", Value: "GET"},
				{Name: ":scheme", Value: "https"},
				{Name: ":authority", Value: "target"},
				{Name: ":path", Value: "/"},
				{Name: "transfer-encoding", Value: "chunked"},
			})
		},
	})

	Register(Scenario{
		ID:        "headers/status-in-request",
		Name:      "send the response pseudo-header :status in a request",
		Violation: "a response pseudo-header appears in a request",
		Rule:      "RFC 9114 Section 4.3.1",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			if _, err := openConformant(s); err != nil {
				return nil, err
			}
			return sendLiteralRequest(s, []http3.HeaderField{
				{Name: ":status", Value: "200"},
				{Name: ":method", Value: "GET"},
				{Name: ":scheme", Value: "https"},
				{Name: ":authority", Value: "target"},
				{Name: ":path", Value: "/"},
			})
		},
	})

	Register(Scenario{
		ID:        "headers/pseudo-after-regular",
		Name:      "send a pseudo-header after a regular field",
		Violation: "a pseudo-header follows regular fields in the section",
		Rule:      "RFC 9114 Section 4.3",
		Execute: func(ctx context.Context, s *http3.Session) (*http3.Stream, error) {
			if _, err := openConformant(s); err != nil {
				return nil, err
			}
			return sendLiteralRequest(s, []http3.HeaderField{
				{Name: ":method", Value: "GET"},
				{Name: ":scheme", Value: "https"},
				{Name: ":authority", Value: "target"},
				{Name: "user-agent", Value: "h3probe"},
				{Name: ":path", Value: "/"},
			})
		},
	})
}
