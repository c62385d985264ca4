package scenario

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/h3probe/internal/http3"
	"example.com/h3probe/internal/responder"
	"example.com/h3probe/internal/transport"
)

// newTestRunner wires a Runner to an in-process responder: every Dial hands
// the server half of a fresh pair to a responder goroutine.
func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	resp := responder.New(responder.Options{})
	return &Runner{
		Dial: func(context.Context) (http3.Transport, error) {
			clientTr, serverTr := transport.NewPair()
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = resp.Serve(ctx, serverTr)
			}()
			return clientTr, nil
		},
		ObserveTimeout: 2 * time.Second,
	}
}

func runScenario(t *testing.T, id string) Outcome {
	t.Helper()
	sc, ok := Get(id)
	require.True(t, ok, "scenario %s not registered", id)
	r := newTestRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Run(ctx, sc)
}

func TestRegistryContents(t *testing.T) {
	want := []string{
		"baseline/echo",
		"baseline/root-fetch",
		"control/data-on-control-stream",
		"control/duplicate-settings-ids",
		"control/headers-on-control-stream",
		"control/missing-settings",
		"control/reserved-setting-id",
		"control/second-control-stream",
		"control/second-settings",
		"headers/missing-method",
		"headers/pseudo-after-regular",
		"headers/status-in-request",
		"headers/transfer-encoding",
		"headers/uppercase-field-name",
		"push/cancel-push-unannounced",
		"push/client-push-promise",
		"push/client-push-stream",
		"request/data-before-headers",
		"request/goaway-on-request-stream",
		"request/reserved-frame-type",
		"request/settings-on-request-stream",
		"stream/unknown-stream-type",
	}
	require.Equal(t, want, IDs())

	_, ok := Get("no/such-scenario")
	require.False(t, ok)
}

func TestBaselineScenarios(t *testing.T) {
	for _, id := range []string{"baseline/root-fetch", "baseline/echo"} {
		out := runScenario(t, id)
		require.Equal(t, ReactionResponseReceived, out.Reaction, "%s: %+v", id, out)
		require.Equal(t, "200", out.Status, id)
		require.NotEmpty(t, out.Headers, id)
		require.NotEqual(t, "", out.RunID.String(), id)
	}

	echo := runScenario(t, "baseline/echo")
	require.Equal(t, []byte("h3probe baseline payload"), echo.Body)
}

func TestViolationScenariosAgainstReferenceResponder(t *testing.T) {
	cases := []struct {
		id       string
		wantCode http3.ErrorCode
	}{
		{"control/second-control-stream", http3.ErrCodeStreamCreationError},
		{"control/second-settings", http3.ErrCodeFrameUnexpected},
		{"control/missing-settings", http3.ErrCodeMissingSettings},
		{"control/data-on-control-stream", http3.ErrCodeFrameUnexpected},
		{"control/headers-on-control-stream", http3.ErrCodeFrameUnexpected},
		{"control/duplicate-settings-ids", http3.ErrCodeSettingsError},
		{"control/reserved-setting-id", http3.ErrCodeSettingsError},
		{"request/data-before-headers", http3.ErrCodeFrameUnexpected},
		{"request/goaway-on-request-stream", http3.ErrCodeFrameUnexpected},
		{"request/settings-on-request-stream", http3.ErrCodeFrameUnexpected},
		{"request/reserved-frame-type", http3.ErrCodeFrameUnexpected},
		{"push/cancel-push-unannounced", http3.ErrCodeIDError},
		{"push/client-push-promise", http3.ErrCodeFrameUnexpected},
		{"push/client-push-stream", http3.ErrCodeStreamCreationError},
	}
	for _, tc := range cases {
		t.Run(tc.id, func(t *testing.T) {
			out := runScenario(t, tc.id)
			require.Equal(t, ReactionConnectionClosed, out.Reaction, "outcome: %+v", out)
			require.Equal(t, tc.wantCode, out.ErrorCode)
		})
	}
}

func TestHeaderViolationScenariosResetTheStream(t *testing.T) {
	for _, id := range []string{
		"headers/uppercase-field-name",
		"headers/transfer-encoding",
		"headers/status-in-request",
		"headers/pseudo-after-regular",
	} {
		t.Run(id, func(t *testing.T) {
			out := runScenario(t, id)
			require.Equal(t, ReactionStreamReset, out.Reaction, "outcome: %+v", out)
			require.Equal(t, http3.ErrCodeMessageError, out.ErrorCode)
		})
	}
}

func TestMissingMethodScenarioGets400(t *testing.T) {
	out := runScenario(t, "headers/missing-method")
	require.Equal(t, ReactionResponseReceived, out.Reaction, "outcome: %+v", out)
	require.Equal(t, "400", out.Status)
}

func TestFinWithoutHeadersIsNotAResponse(t *testing.T) {
	// A target that finishes the request stream without ever answering.
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := &Runner{
		Dial: func(context.Context) (http3.Transport, error) {
			clientTr, serverTr := transport.NewPair()
			go func() {
				for {
					ev, err := serverTr.Receive(ctx)
					if err != nil {
						return
					}
					if data, ok := ev.(http3.StreamDataEvent); ok && data.FIN && data.Dir == http3.DirBidi {
						_ = serverTr.CloseSend(data.StreamID)
					}
				}
			}()
			return clientTr, nil
		},
		ObserveTimeout: 2 * time.Second,
	}
	sc, ok := Get("baseline/root-fetch")
	require.True(t, ok)
	out := r.Run(context.Background(), sc)
	require.Equal(t, ReactionStreamEndedWithoutResponse, out.Reaction, "outcome: %+v", out)
	require.Empty(t, out.Status)
}

func TestUnknownStreamTypeScenarioGetsResponse(t *testing.T) {
	out := runScenario(t, "stream/unknown-stream-type")
	require.Equal(t, ReactionResponseReceived, out.Reaction, "outcome: %+v", out)
	require.Equal(t, "200", out.Status)
}

func TestRunAllCoversEveryScenario(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	outcomes := r.RunAll(ctx)
	require.Len(t, outcomes, len(All()))
	seen := make(map[string]bool)
	for _, out := range outcomes {
		require.NotEqual(t, ReactionTransportFailure, out.Reaction, "%s: %s", out.ScenarioID, out.Reason)
		require.False(t, seen[out.ScenarioID])
		seen[out.ScenarioID] = true
	}
}

func TestDialFailureIsTransportFailure(t *testing.T) {
	r := &Runner{
		Dial: func(context.Context) (http3.Transport, error) {
			return nil, context.DeadlineExceeded
		},
		ObserveTimeout: time.Second,
	}
	sc, _ := Get("baseline/root-fetch")
	out := r.Run(context.Background(), sc)
	require.Equal(t, ReactionTransportFailure, out.Reaction)
	require.NotEmpty(t, out.Reason)
}

func TestSilentTargetTimesOut(t *testing.T) {
	// A transport that swallows everything and never produces events.
	r := &Runner{
		Dial: func(context.Context) (http3.Transport, error) {
			clientTr, _ := transport.NewPair()
			return clientTr, nil
		},
		ObserveTimeout: 100 * time.Millisecond,
	}
	sc, _ := Get("control/missing-settings")
	out := r.Run(context.Background(), sc)
	require.Equal(t, ReactionTimeout, out.Reaction)
}
