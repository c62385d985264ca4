// Package scenario defines the violation scenarios the probe runs against a
// target and the runner that executes them and classifies the target's
// reaction.
package scenario

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"example.com/h3probe/internal/http3"
)

// Reaction classifies what the target did after the scenario's traffic.
type Reaction string

const (
	// ReactionConnectionClosed: the target closed the connection.
	ReactionConnectionClosed Reaction = "connection_closed"
	// ReactionStreamReset: the target reset the watched stream.
	ReactionStreamReset Reaction = "stream_reset"
	// ReactionResponseReceived: the target answered the watched stream
	// normally.
	ReactionResponseReceived Reaction = "response_received"
	// ReactionStreamEndedWithoutResponse: the target finished the watched
	// stream without ever sending response headers.
	ReactionStreamEndedWithoutResponse Reaction = "stream_ended_without_response"
	// ReactionTimeout: the target did nothing within the observation window.
	ReactionTimeout Reaction = "timeout"
	// ReactionTransportFailure: the connection or the scenario's own sends
	// failed before an observation could be made.
	ReactionTransportFailure Reaction = "transport_failure"
)

// Outcome is the result of one scenario run. Every run completes with an
// Outcome; a hostile or silent target is a classification, not an error.
type Outcome struct {
	RunID      uuid.UUID
	ScenarioID string
	Violation  string
	Reaction   Reaction
	// ErrorCode is set for connection closes and stream resets.
	ErrorCode http3.ErrorCode
	// Reason is the close reason phrase, or the failure detail for
	// ReactionTransportFailure.
	Reason string
	// Status, Headers and Body describe the response for
	// ReactionResponseReceived.
	Status  string
	Headers []http3.HeaderField
	Body    []byte
	Elapsed time.Duration
}

// Scenario is one self-contained exchange against a target. Execute drives
// the session up to and including the violating traffic and returns the
// stream whose fate the runner should watch; a nil stream means only
// connection-level reactions matter.
type Scenario struct {
	// ID is the stable identifier, "group/name".
	ID string
	// Name is the human-readable one-liner.
	Name string
	// Violation describes the rule being broken, empty for baselines.
	Violation string
	// Rule cites the requirement, e.g. "RFC 9114 Section 6.2.1".
	Rule string
	// Execute performs the exchange.
	Execute func(ctx context.Context, s *http3.Session) (*http3.Stream, error)
}

// DefaultObserveTimeout bounds how long the runner waits for a reaction.
const DefaultObserveTimeout = 3 * time.Second

// Runner executes scenarios over freshly dialed connections.
type Runner struct {
	// Dial produces a new transport per run.
	Dial func(ctx context.Context) (http3.Transport, error)
	// ObserveTimeout bounds the observation window. Zero means
	// DefaultObserveTimeout.
	ObserveTimeout time.Duration
	// Log receives per-run logging.
	Log zerolog.Logger
}

// Run executes one scenario on a fresh connection and classifies the
// target's reaction.
func (r *Runner) Run(ctx context.Context, sc Scenario) Outcome {
	out := Outcome{
		RunID:      uuid.New(),
		ScenarioID: sc.ID,
		Violation:  sc.Violation,
	}
	start := time.Now()
	defer func() {
		out.Elapsed = time.Since(start)
		r.Log.Info().
			Str("run_id", out.RunID.String()).
			Str("scenario", out.ScenarioID).
			Str("reaction", string(out.Reaction)).
			Str("error_code", out.ErrorCode.String()).
			Str("status", out.Status).
			Dur("elapsed", out.Elapsed).
			Msg("scenario finished")
	}()

	r.Log.Debug().
		Str("run_id", out.RunID.String()).
		Str("scenario", sc.ID).
		Str("rule", sc.Rule).
		Msg("scenario starting")

	tr, err := r.Dial(ctx)
	if err != nil {
		out.Reaction = ReactionTransportFailure
		out.Reason = err.Error()
		return out
	}
	session := http3.NewSession(tr, http3.PerspectiveClient, http3.SessionOptions{Logger: r.Log})
	defer session.Close(http3.ErrCodeNoError, "run complete")

	watched, err := sc.Execute(ctx, session)
	if err != nil {
		// A close racing the violating send still counts as a reaction:
		// drain briefly to pick it up.
		if closed, ok := r.drainForClose(ctx, session); ok {
			out.Reaction = ReactionConnectionClosed
			out.ErrorCode = closed.ErrorCode
			out.Reason = closed.Reason
			return out
		}
		out.Reaction = ReactionTransportFailure
		out.Reason = err.Error()
		return out
	}

	r.observe(ctx, session, watched, &out)
	return out
}

// observe waits for the target's reaction to the watched stream (or, with a
// nil stream, to the connection) within the observation window.
func (r *Runner) observe(ctx context.Context, session *http3.Session, watched *http3.Stream, out *Outcome) {
	timeout := r.ObserveTimeout
	if timeout <= 0 {
		timeout = DefaultObserveTimeout
	}
	octx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		ev, err := session.ReceiveEvent(octx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				out.Reaction = ReactionTimeout
				return
			}
			if ctx.Err() != nil {
				out.Reaction = ReactionTransportFailure
				out.Reason = ctx.Err().Error()
				return
			}
			out.Reaction = ReactionTransportFailure
			out.Reason = err.Error()
			return
		}
		switch e := ev.(type) {
		case http3.ClosedEvent:
			out.Reaction = ReactionConnectionClosed
			out.ErrorCode = e.ErrorCode
			out.Reason = e.Reason
			return
		case http3.ResetEvent:
			if watched != nil && e.Stream.ID == watched.ID {
				out.Reaction = ReactionStreamReset
				out.ErrorCode = e.ErrorCode
				return
			}
		case http3.FrameEvent:
			if watched == nil || e.Stream.ID != watched.ID {
				continue
			}
			switch e.Frame.Type {
			case http3.FrameHeaders:
				if fields, err := http3.DecodeHeaders(e.Frame.Payload); err == nil {
					out.Headers = append(out.Headers, fields...)
					for _, f := range fields {
						if f.Name == ":status" {
							out.Status = f.Value
						}
					}
				}
			case http3.FrameData:
				out.Body = append(out.Body, e.Frame.Payload...)
			}
			if e.FIN {
				out.Reaction = responseReaction(out)
				return
			}
		case http3.StreamEndedEvent:
			if watched != nil && e.Stream.ID == watched.ID {
				out.Reaction = responseReaction(out)
				return
			}
		}
	}
}

// responseReaction classifies a watched stream the target finished cleanly.
// A response needs a status; a bare FIN with no headers is its own signal.
func responseReaction(out *Outcome) Reaction {
	if out.Status == "" {
		return ReactionStreamEndedWithoutResponse
	}
	return ReactionResponseReceived
}

// drainForClose gives an already-failing connection a short grace period to
// surface its close event.
func (r *Runner) drainForClose(ctx context.Context, session *http3.Session) (http3.ClosedEvent, bool) {
	dctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	for {
		ev, err := session.ReceiveEvent(dctx)
		if err != nil {
			return http3.ClosedEvent{}, false
		}
		if closed, ok := ev.(http3.ClosedEvent); ok {
			return closed, true
		}
	}
}

// RunAll executes every registered scenario, each on its own connection.
func (r *Runner) RunAll(ctx context.Context) []Outcome {
	scenarios := All()
	outcomes := make([]Outcome, 0, len(scenarios))
	for _, sc := range scenarios {
		if ctx.Err() != nil {
			break
		}
		outcomes = append(outcomes, r.Run(ctx, sc))
	}
	return outcomes
}

// openConformant performs the legal connection preface: one control stream
// with a single well-formed SETTINGS frame.
func openConformant(s *http3.Session) (*http3.Stream, error) {
	ctrl, err := s.OpenControlStream()
	if err != nil {
		return nil, err
	}
	if err := s.SendSettings(ctrl, http3.DefaultSettings()); err != nil {
		return nil, err
	}
	return ctrl, nil
}

// sendRequest writes a complete request on a fresh request stream.
func sendRequest(s *http3.Session, method, path string, body []byte) (*http3.Stream, error) {
	req, err := s.OpenRequestStream()
	if err != nil {
		return nil, err
	}
	fields := []http3.HeaderField{
		{Name: ":method", Value: method},
		{Name: ":scheme", Value: "https"},
		{Name: ":authority", Value: "target"},
		{Name: ":path", Value: path},
	}
	if err := s.SendHeaders(req, fields); err != nil {
		return nil, err
	}
	if len(body) > 0 {
		if err := s.SendData(req, body); err != nil {
			return nil, err
		}
	}
	if err := s.CloseStream(req); err != nil {
		return nil, err
	}
	return req, nil
}
