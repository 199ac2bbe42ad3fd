package distribution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// GatewayConfig holds the retry policy for provider calls
type GatewayConfig struct {
	MaxAttempts    int           // Attempts per operation including the first (default 3)
	BaseBackoff    time.Duration // Delay before the second attempt (default 200ms)
	MaxBackoff     time.Duration // Upper bound for a single delay (default 2s)
	AttemptTimeout time.Duration // Hard timeout of one attempt (default 10s)
}

// DefaultGatewayConfig returns the default retry policy
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		MaxAttempts:    3,
		BaseBackoff:    200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		AttemptTimeout: 10 * time.Second,
	}
}

// Gateway wraps a Transport with bounded retries and maps results to Outcomes
type Gateway struct {
	transport Transport
	config    GatewayConfig
	logger    *logrus.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewGateway creates a new provider gateway
func NewGateway(transport Transport, config GatewayConfig, logger *logrus.Logger) *Gateway {
	defaults := DefaultGatewayConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = defaults.BaseBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = defaults.AttemptTimeout
	}
	return &Gateway{
		transport: transport,
		config:    config,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// Confirm asks the provider to create the order
func (g *Gateway) Confirm(ctx context.Context, req *OrderRequest) Outcome {
	snapshot, err := g.retry(ctx, "confirm", req.ClientReference, func(attemptCtx context.Context) (*OrderSnapshot, error) {
		return g.transport.CreateOrder(attemptCtx, req)
	})
	if err != nil {
		return g.toOutcome(err)
	}

	switch {
	case snapshot.Status.IsActive() && snapshot.OrderID != "":
		return Confirmed(snapshot.OrderID)
	case snapshot.Status == OrderStatusCancelled:
		return Rejected("ORDER_NOT_CONFIRMED", "provider created the order in cancelled state")
	default:
		// Provider accepted but has not decided yet
		return Indeterminate(fmt.Errorf("order %q returned in status %q", snapshot.OrderID, snapshot.Status))
	}
}

// Cancel asks the provider to cancel the order. A Confirmed outcome means the
// cancellation itself was confirmed.
func (g *Gateway) Cancel(ctx context.Context, remoteOrderID string) Outcome {
	snapshot, err := g.retry(ctx, "cancel", remoteOrderID, func(attemptCtx context.Context) (*OrderSnapshot, error) {
		return g.transport.CancelOrder(attemptCtx, remoteOrderID)
	})
	if err != nil {
		var rejection *RejectionError
		if errors.As(err, &rejection) && rejection.StatusCode == http.StatusConflict && rejection.ReasonCode == "ORDER_ALREADY_CANCELLED" {
			return Confirmed(remoteOrderID)
		}
		return g.toOutcome(err)
	}
	if snapshot.Status != OrderStatusCancelled {
		return Indeterminate(fmt.Errorf("order %q still in status %q after cancel", remoteOrderID, snapshot.Status))
	}
	return Confirmed(remoteOrderID)
}

// Fetch reads the provider's current order. It returns ErrIndeterminate when
// retries are exhausted and *RejectionError for definitive failures.
func (g *Gateway) Fetch(ctx context.Context, remoteOrderID string) (*OrderSnapshot, error) {
	snapshot, err := g.retry(ctx, "fetch", remoteOrderID, func(attemptCtx context.Context) (*OrderSnapshot, error) {
		return g.transport.GetOrder(attemptCtx, remoteOrderID)
	})
	if err != nil {
		var rejection *RejectionError
		if errors.As(err, &rejection) {
			return nil, rejection
		}
		return nil, fmt.Errorf("%w: %v", ErrIndeterminate, err)
	}
	return snapshot, nil
}

func (g *Gateway) toOutcome(err error) Outcome {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return Rejected(rejection.ReasonCode, rejection.Message)
	}
	return Indeterminate(err)
}

// retry runs call until it succeeds, is rejected, or attempts run out
func (g *Gateway) retry(
	ctx context.Context,
	operation, key string,
	call func(ctx context.Context) (*OrderSnapshot, error),
) (*OrderSnapshot, error) {
	var lastErr error
	backoff := g.config.BaseBackoff

	for attempt := 1; attempt <= g.config.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, g.config.AttemptTimeout)
		snapshot, err := call(attemptCtx)
		cancel()

		if err == nil {
			return snapshot, nil
		}
		lastErr = err

		var rejection *RejectionError
		if errors.As(err, &rejection) {
			g.logger.WithFields(logrus.Fields{
				"operation":   operation,
				"key":         key,
				"attempt":     attempt,
				"reason_code": rejection.ReasonCode,
			}).Warn("Provider rejected request")
			return nil, err
		}

		g.logger.WithError(err).WithFields(logrus.Fields{
			"operation": operation,
			"key":       key,
			"attempt":   attempt,
		}).Warn("Provider call failed")

		if ctx.Err() != nil || attempt == g.config.MaxAttempts {
			break
		}
		if err := g.sleep(ctx, backoff); err != nil {
			break
		}
		backoff *= 2
		if backoff > g.config.MaxBackoff {
			backoff = g.config.MaxBackoff
		}
	}

	return nil, fmt.Errorf("%s failed after retries: %w", operation, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
