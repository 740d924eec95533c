// Package proofgate admits proof-of-personhood submissions. It keeps a ledger
// of consumed (action, nullifier) pairs and delegates proof checking to an
// injected Verifier.
package proofgate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/logger"

	"wintrust/internal/domainerrors"
	"wintrust/internal/metrics"
	"wintrust/internal/models"
)

// ErrProofUsed is returned when the (action, nullifier) pair is already
// consumed or reserved by an in-flight participation.
var ErrProofUsed = domainerrors.New(domainerrors.CodeConflict, "proof already used for this action")

// Verifier checks a proof for an action against the proof system.
// Any non-nil error means the proof was not accepted.
type Verifier interface {
	Verify(ctx context.Context, proof models.Proof, action string) error
}

// Ledger records (action, nullifier) keys. Every method is atomic per key.
type Ledger interface {
	// Reserve marks key as pending. It returns false if key is already
	// pending or consumed.
	Reserve(ctx context.Context, key string) (bool, error)
	// Commit marks key as permanently consumed.
	Commit(ctx context.Context, key string) error
	// Release drops a pending reservation. Consumed keys are kept.
	Release(ctx context.Context, key string) error
	Consumed(ctx context.Context, key string) (bool, error)
}

// Commit retry defaults. The delay doubles after each failed attempt.
const (
	DefaultCommitAttempts = 4
	DefaultCommitBackoff  = 100 * time.Millisecond
)

// Gate combines the ledger and the verifier.
type Gate struct {
	verifier Verifier
	ledger   Ledger
	metrics  *metrics.Metrics

	commitAttempts int
	commitBackoff  time.Duration
}

// Option configures a Gate.
type Option func(*Gate)

// WithMetrics records verification outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithCommitRetry sets how often a failed ledger commit is attempted and
// the delay before the first retry.
func WithCommitRetry(attempts int, backoff time.Duration) Option {
	return func(g *Gate) {
		if attempts > 0 {
			g.commitAttempts = attempts
		}
		if backoff >= 0 {
			g.commitBackoff = backoff
		}
	}
}

func New(verifier Verifier, ledger Ledger, opts ...Option) *Gate {
	g := &Gate{
		verifier:       verifier,
		ledger:         ledger,
		commitAttempts: DefaultCommitAttempts,
		commitBackoff:  DefaultCommitBackoff,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Key returns the ledger key for an action and nullifier. The action length
// prefix keeps keys unambiguous when either part contains the separator.
func Key(action, nullifier string) string {
	return fmt.Sprintf("%d:%s:%s", len(action), action, nullifier)
}

func validate(action, nullifier string) error {
	if action == "" {
		return domainerrors.New(domainerrors.CodeValidation, "action is required")
	}
	if nullifier == "" {
		return domainerrors.New(domainerrors.CodeValidation, "proof.nullifier_hash is required")
	}
	return nil
}

// CheckAndConsume records the pair as consumed and reports whether it was
// already used. It makes no verification call.
func (g *Gate) CheckAndConsume(ctx context.Context, action, nullifier string) (bool, error) {
	if err := validate(action, nullifier); err != nil {
		return false, err
	}
	key := Key(action, nullifier)
	reserved, err := g.ledger.Reserve(ctx, key)
	if err != nil {
		return false, domainerrors.Wrap(err, domainerrors.CodeInternal, "proof ledger unavailable")
	}
	if !reserved {
		return true, nil
	}
	if err := g.ledger.Commit(ctx, key); err != nil {
		return false, domainerrors.Wrap(err, domainerrors.CodeInternal, "proof ledger unavailable")
	}
	return false, nil
}

// Verify asks the verifier to check proof. Denials and transport failures
// are reported the same way to the caller.
func (g *Gate) Verify(ctx context.Context, proof models.Proof, action string) error {
	start := time.Now()
	err := g.verifier.Verify(ctx, proof, action)
	g.metrics.ObserveVerification(start, err == nil)
	if err != nil {
		logger.Warningf("proof verification failed for action %q: %v", action, err)
		return domainerrors.Wrap(err, domainerrors.CodeVerificationFailed, "proof verification failed")
	}
	return nil
}

// Admit runs use for a verified, unused proof. The pair is reserved before
// verification, committed once use succeeds, and released on any failure so
// a fresh proof can be retried.
func (g *Gate) Admit(ctx context.Context, proof models.Proof, action string, use func(ctx context.Context) error) error {
	if err := validate(action, proof.NullifierHash); err != nil {
		return err
	}
	key := Key(action, proof.NullifierHash)

	reserved, err := g.ledger.Reserve(ctx, key)
	if err != nil {
		return domainerrors.Wrap(err, domainerrors.CodeInternal, "proof ledger unavailable")
	}
	if !reserved {
		return ErrProofUsed
	}

	settled := false
	defer func() {
		if settled {
			return
		}
		if err := g.ledger.Release(context.WithoutCancel(ctx), key); err != nil {
			logger.Errorf("failed to release proof reservation for action %q: %v", action, err)
		}
	}()

	if err := g.Verify(ctx, proof, action); err != nil {
		return err
	}
	if err := use(ctx); err != nil {
		return err
	}

	settled = true
	if err := g.commit(context.WithoutCancel(ctx), key); err != nil {
		// The participation is recorded. Until the reservation expires the
		// key still reads as in use; after that only the store's
		// one-number-per-identity rule guards this raffle.
		logger.Errorf("failed to commit proof for action %q after %d attempts: %v", action, g.commitAttempts, err)
	}
	return nil
}

// commit retries Commit with a doubling delay.
func (g *Gate) commit(ctx context.Context, key string) error {
	delay := g.commitBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = g.ledger.Commit(ctx, key); err == nil {
			return nil
		}
		if attempt >= g.commitAttempts {
			return err
		}
		logger.Warningf("proof commit attempt %d failed: %v", attempt, err)
		time.Sleep(delay)
		delay *= 2
	}
}
