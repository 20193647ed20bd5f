// Package ratelimit wraps a modelclient.Client with an adaptive
// tokens-per-minute budget, grounded on the teacher's
// features/model/middleware.AdaptiveRateLimiter: an AIMD token bucket built
// on golang.org/x/time/rate that halves its budget on any error from the
// wrapped client and recovers it gradually on successive successes. Process-local
// only; the teacher's Pulse-backed cluster coordination is dropped since
// planscope runs GeneratePlan/Run from a single process per session (see
// DESIGN.md).
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"planscope/errs"
	"planscope/modelclient"
)

// Limiter enforces an adaptive tokens-per-minute budget across Complete,
// CompleteJSON, and Embed calls issued through a wrapped modelclient.Client.
type Limiter struct {
	mu sync.Mutex

	limiter *rate.Limiter

	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// New constructs a Limiter with initialTPM as the starting tokens-per-minute
// budget and maxTPM as the ceiling it may probe back up to after a backoff.
// A non-positive initialTPM defaults to a conservative 60000 TPM.
func New(initialTPM, maxTPM float64) *Limiter {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &Limiter{
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Wrap returns a modelclient.Client that enforces l before delegating every
// call to next.
func (l *Limiter) Wrap(next modelclient.Client) modelclient.Client {
	return &limitedClient{next: next, limiter: l}
}

type limitedClient struct {
	next    modelclient.Client
	limiter *Limiter
}

func (c *limitedClient) Complete(ctx context.Context, prompt, systemPrompt string, opts modelclient.Options) (string, error) {
	if err := c.limiter.wait(ctx, prompt, systemPrompt); err != nil {
		return "", err
	}
	text, err := c.next.Complete(ctx, prompt, systemPrompt, opts)
	c.limiter.observe(err)
	return text, err
}

func (c *limitedClient) CompleteJSON(ctx context.Context, prompt, systemPrompt string, opts modelclient.Options) (map[string]any, error) {
	if err := c.limiter.wait(ctx, prompt, systemPrompt); err != nil {
		return nil, err
	}
	v, err := c.next.CompleteJSON(ctx, prompt, systemPrompt, opts)
	c.limiter.observe(err)
	return v, err
}

func (c *limitedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := c.limiter.wait(ctx, text, ""); err != nil {
		return nil, err
	}
	vec, err := c.next.Embed(ctx, text)
	c.limiter.observe(err)
	return vec, err
}

func (l *Limiter) wait(ctx context.Context, prompt, systemPrompt string) error {
	tokens := estimateTokens(prompt, systemPrompt)
	if err := l.limiter.WaitN(ctx, tokens); err != nil {
		return errs.Wrap(errs.ModelClientErr, "ratelimit: waiting for budget", err)
	}
	return nil
}

// observe halves the budget on a model-client error (conservatively treating
// every failure as a possible rate-limit signal, since modelclient.Client
// does not distinguish error causes) and otherwise nudges it back up toward
// maxTPM.
func (l *Limiter) observe(err error) {
	if err != nil {
		l.backoff()
		return
	}
	l.probe()
}

func (l *Limiter) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()

	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	l.setLimit(newTPM)
}

func (l *Limiter) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()

	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	l.setLimit(newTPM)
}

// setLimit updates currentTPM and the underlying limiter's rate/burst. Caller
// must hold l.mu.
func (l *Limiter) setLimit(newTPM float64) {
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

// estimateTokens approximates the token cost of a call from its text length
// (roughly one token per three characters) plus a fixed overhead buffer for
// provider framing, so even short prompts still draw from the budget.
func estimateTokens(prompt, systemPrompt string) int {
	chars := len(prompt) + len(systemPrompt)
	if chars <= 0 {
		return 500
	}
	return chars/3 + 200
}
