package platforms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/spotter/internal/logger"
	"github.com/CodeMonkeyCybersecurity/spotter/internal/telemetry"
)

// UnknownError is reported when a platform call panics with something that
// is not an error.
const UnknownError = "Unknown error"

// Result is anything a platform call can return. StampPlatform is called
// with the id of the platform that produced the value.
type Result interface {
	DedupKey() string
	StampPlatform(platformID string)
}

// Fetcher performs one call against one platform.
type Fetcher[T Result] func(ctx context.Context, client Client) ([]T, error)

// SingleResult is the envelope returned by FetchFromSinglePlatform.
type SingleResult[T Result] struct {
	Success bool   `json:"success"`
	Data    []T    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PlatformError records one platform that failed or timed out during a
// fan-out.
type PlatformError struct {
	PlatformID string `json:"platform_id"`
	Message    string `json:"message"`
	Timeout    bool   `json:"timeout"`
}

// FanOutResult is the merged outcome of FetchFromAllPlatforms.
type FanOutResult[T Result] struct {
	Results []T             `json:"results"`
	Errors  []PlatformError `json:"errors"`
}

// FetchFromSinglePlatform runs fetch against client and stamps every result
// with platformID. It never panics: a panicking fetch is reported as a
// failed result.
func FetchFromSinglePlatform[T Result](ctx context.Context, client Client, platformID string, fetch Fetcher[T]) (result SingleResult[T]) {
	defer func() {
		if r := recover(); r != nil {
			msg := UnknownError
			if err, ok := r.(error); ok {
				msg = err.Error()
			}
			result = SingleResult[T]{Error: msg}
		}
	}()

	data, err := fetch(ctx, client)
	if err != nil {
		return SingleResult[T]{Error: err.Error()}
	}

	for _, item := range data {
		item.StampPlatform(platformID)
	}
	if data == nil {
		data = []T{}
	}
	return SingleResult[T]{Success: true, Data: data}
}

// callWithTimeout runs one platform call with its own deadline. When the
// deadline passes first the call is abandoned: its context is cancelled but
// the result, if it ever arrives, is dropped.
func callWithTimeout[T Result](ctx context.Context, client Client, platformID string, fetch Fetcher[T], timeout time.Duration, label string) (result SingleResult[T], timedOut bool) {
	log := logger.FromContext(ctx).WithComponent("fanout").WithPlatform(platformID)
	operation := "platform." + label
	ctx, span := log.StartOperation(ctx, operation)
	start := time.Now()
	defer func() {
		var err error
		if !result.Success {
			err = errors.New(result.Error)
		}
		log.FinishOperation(ctx, span, operation, start, err, "timeout", timedOut)
	}()

	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan SingleResult[T], 1)
	go func() {
		done <- FetchFromSinglePlatform(callCtx, client, platformID, fetch)
	}()

	select {
	case r := <-done:
		return r, false
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return SingleResult[T]{Error: fmt.Sprintf("%s timed out after %s", label, timeout)}, true
		}
		return SingleResult[T]{Error: callCtx.Err().Error()}, false
	}
}

// FetchFromAllPlatforms calls fetch on every client concurrently. Each call
// has its own timeout; a failing platform only adds an entry to Errors.
// Results are merged in registration order and deduplicated by DedupKey,
// the first occurrence winning.
func FetchFromAllPlatforms[T Result](ctx context.Context, clients *ClientMap, fetch Fetcher[T], timeout time.Duration, label string) FanOutResult[T] {
	if label == "" {
		label = "request"
	}
	log := logger.FromContext(ctx).WithComponent("fanout")
	recorder := telemetry.FromContext(ctx)

	ids := clients.IDs()
	outcomes := make([]SingleResult[T], len(ids))
	timedOut := make([]bool, len(ids))

	g := new(errgroup.Group)
	for i, id := range ids {
		client, ok := clients.Get(id)
		if !ok {
			outcomes[i] = SingleResult[T]{Error: "platform removed during fan-out"}
			continue
		}

		g.Go(func() error {
			start := time.Now()
			outcomes[i], timedOut[i] = callWithTimeout(ctx, client, id, fetch, timeout, label)

			outcome := telemetry.OutcomeSuccess
			switch {
			case timedOut[i]:
				outcome = telemetry.OutcomeTimeout
			case !outcomes[i].Success:
				outcome = telemetry.OutcomeError
			}
			recorder.RecordPlatformCall(ctx, id, label, outcome, time.Since(start))
			return nil
		})
	}
	_ = g.Wait()

	merged := FanOutResult[T]{Results: []T{}, Errors: []PlatformError{}}
	seen := make(map[string]bool)
	for i, id := range ids {
		r := outcomes[i]
		if !r.Success {
			merged.Errors = append(merged.Errors, PlatformError{
				PlatformID: id,
				Message:    r.Error,
				Timeout:    timedOut[i],
			})
			continue
		}

		for _, item := range r.Data {
			key := item.DedupKey()
			if seen[key] {
				continue
			}
			seen[key] = true
			merged.Results = append(merged.Results, item)
		}
	}

	log.Debugw("Fan-out completed",
		"label", label,
		"platforms", len(ids),
		"results", len(merged.Results),
		"errors", len(merged.Errors),
	)
	return merged
}

// SearchAcrossPlatforms searches one platform when platformID is set, or
// all of them otherwise. Failures are logged and yield partial results.
// An unknown platformID returns an empty slice without calling anything.
func SearchAcrossPlatforms[T Result](ctx context.Context, clients *ClientMap, platformID string, search Fetcher[T], timeout time.Duration, label string) []T {
	if label == "" {
		label = "search"
	}

	if platformID == "" {
		return FetchFromAllPlatforms(ctx, clients, search, timeout, label).Results
	}

	client, ok := clients.Get(platformID)
	if !ok {
		return []T{}
	}

	start := time.Now()
	r, timedOut := callWithTimeout(ctx, client, platformID, search, timeout, label)

	outcome := telemetry.OutcomeSuccess
	switch {
	case timedOut:
		outcome = telemetry.OutcomeTimeout
	case !r.Success:
		outcome = telemetry.OutcomeError
	}
	telemetry.FromContext(ctx).RecordPlatformCall(ctx, platformID, label, outcome, time.Since(start))

	if !r.Success {
		return []T{}
	}
	return r.Data
}
