package ges

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// PostCommitOptions parameterizes the retry pipeline wrapping each async
// post-commit action, per spec.md §4.6.
type PostCommitOptions struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	UseJitter         bool
}

// DefaultPostCommitOptions returns the defaults named in spec.md §4.6.
func DefaultPostCommitOptions() PostCommitOptions {
	return PostCommitOptions{
		MaxRetries:        3,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		UseJitter:         true,
	}
}

func (o PostCommitOptions) withDefaults() PostCommitOptions {
	d := DefaultPostCommitOptions()
	if o == (PostCommitOptions{}) {
		return d
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = d.MaxRetries
	}
	if o.InitialDelay == 0 {
		o.InitialDelay = d.InitialDelay
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = d.MaxDelay
	}
	if o.BackoffMultiplier == 0 {
		o.BackoffMultiplier = d.BackoffMultiplier
	}
	return o
}

// PostCommitActionResult is the outcome of running one PostCommitAction
// through the executor.
type PostCommitActionResult struct {
	Name          string
	Succeeded     bool
	Duration      time.Duration
	RetryAttempts int
	TotalDuration time.Duration
	Err           error
}

// PostCommitExecutor retries each async post-commit action independently,
// sequentially per commit (preserving registration order so a later action
// observes an earlier one's side effects), in a goroutine scheduled after
// commit returns control to the caller. It never panics or blocks the
// caller; failures are only ever reported through the result channel.
type PostCommitExecutor struct {
	opts   PostCommitOptions
	logger *slog.Logger

	// results receives one slice of PostCommitActionResult per commit that
	// scheduled at least one action. Buffered so Schedule never blocks;
	// callers that want results should drain it, but nothing requires them
	// to — committed events are durable regardless.
	results chan []PostCommitActionResult
}

// NewPostCommitExecutor builds an executor with opts (defaults applied) and
// logger (nil uses slog.Default()).
func NewPostCommitExecutor(opts PostCommitOptions, logger *slog.Logger) *PostCommitExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostCommitExecutor{
		opts:    opts.withDefaults(),
		logger:  logger,
		results: make(chan []PostCommitActionResult, 64),
	}
}

// Results exposes the channel of per-commit result batches.
func (e *PostCommitExecutor) Results() <-chan []PostCommitActionResult { return e.results }

// Schedule runs actions for (document, events) in a new goroutine, so that
// a slow action never blocks the commit that scheduled it nor any other
// stream's commits.
func (e *PostCommitExecutor) Schedule(document *ObjectDocument, events []Event, actions []PostCommitAction) {
	if len(actions) == 0 {
		return
	}
	go e.run(document, events, actions)
}

func (e *PostCommitExecutor) run(document *ObjectDocument, events []Event, actions []PostCommitAction) {
	ctx := context.Background()
	results := make([]PostCommitActionResult, 0, len(actions))
	for _, action := range actions {
		results = append(results, e.runOne(ctx, document, events, action))
	}
	select {
	case e.results <- results:
	default:
		e.logger.Warn("ges: post-commit result channel full, dropping batch",
			"object_name", document.ObjectName, "object_id", document.ObjectID)
	}
}

func (e *PostCommitExecutor) runOne(ctx context.Context, document *ObjectDocument, events []Event, action PostCommitAction) PostCommitActionResult {
	start := time.Now()
	attempts := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.opts.InitialDelay
	bo.MaxInterval = e.opts.MaxDelay
	bo.Multiplier = e.opts.BackoffMultiplier
	bo.RandomizationFactor = 0
	if e.opts.UseJitter {
		// backoff/v4 applies jitter as interval * (1 +/- RandomizationFactor);
		// 0.5 yields the spec's [0.5x, 1.5x] envelope around the computed delay.
		bo.RandomizationFactor = 0.5
	}
	policy := backoff.WithMaxRetries(bo, uint64(e.opts.MaxRetries))

	var lastErr error
	err := backoff.Retry(func() error {
		attempts++
		lastErr = action.Run(ctx, document, events)
		if lastErr != nil {
			e.logger.WarnContext(ctx, "ges: post-commit action attempt failed",
				"action", action.Name, "attempt", attempts, "error", lastErr)
		}
		return lastErr
	}, policy)

	result := PostCommitActionResult{
		Name:          action.Name,
		Duration:      time.Since(start),
		RetryAttempts: attempts,
		TotalDuration: time.Since(start),
	}
	if err == nil {
		result.Succeeded = true
	} else {
		result.Err = lastErr
		e.logger.ErrorContext(ctx, "ges: post-commit action exhausted retries",
			"action", action.Name, "attempts", attempts, "error", lastErr)
	}
	return result
}
