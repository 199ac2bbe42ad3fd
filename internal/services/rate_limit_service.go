package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smarttransit/flight-reservation-backend/internal/database"
)

// RateLimitService throttles public reservation lookups
type RateLimitService struct {
	store  database.CounterStore
	config RateLimitConfig
	logger *logrus.Logger
	now    func() time.Time
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	MaxLookupRequests int           // Max lookups per IP
	LookupWindow      time.Duration // Time window for the IP limit
}

// DefaultRateLimitConfig returns the default rate limit configuration
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxLookupRequests: 10,               // 10 requests
		LookupWindow:      15 * time.Minute, // per 15 minutes
	}
}

// NewRateLimitService creates a new rate limit service
func NewRateLimitService(store database.CounterStore, config RateLimitConfig, logger *logrus.Logger) *RateLimitService {
	defaults := DefaultRateLimitConfig()
	if config.MaxLookupRequests <= 0 {
		config.MaxLookupRequests = defaults.MaxLookupRequests
	}
	if config.LookupWindow <= 0 {
		config.LookupWindow = defaults.LookupWindow
	}
	return &RateLimitService{
		store:  store,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

// RateLimitError represents a rate limit exceeded error
type RateLimitError struct {
	Message    string
	RetryAfter time.Time
	Type       string // "ip"
}

func (e *RateLimitError) Error() string {
	return e.Message
}

// CheckLookupRateLimit counts a lookup from ip and fails once the window's
// allowance is used up. Counter store failures let the request through.
func (s *RateLimitService) CheckLookupRateLimit(ctx context.Context, ip string) error {
	if ip == "" {
		ip = "unknown"
	}

	count, ttl, err := s.store.Increment(ctx, "lookup:ip:"+ip, s.config.LookupWindow)
	if err != nil {
		s.logger.WithError(err).WithField("ip", ip).Warn("Rate limit store unavailable, allowing lookup")
		return nil
	}

	if count > int64(s.config.MaxLookupRequests) {
		retryAfter := s.now().Add(ttl)
		return &RateLimitError{
			Message:    fmt.Sprintf("Too many lookups from this IP address. Please try again after %s", retryAfter.Format("15:04:05")),
			RetryAfter: retryAfter,
			Type:       "ip",
		}
	}

	return nil
}
