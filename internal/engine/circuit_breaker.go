package engine

import (
	"sync"
	"time"

	"github.com/rendis/bookforge/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a probe is let through.
	Cooldown time.Duration
}

// DefaultCircuitBreakerConfig suits external render services: five straight
// failures stop further calls for thirty seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

type circuit struct {
	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
}

// CircuitBreaker guards calls to external endpoints, one circuit per endpoint.
type CircuitBreaker struct {
	mu       sync.Mutex
	config   CircuitBreakerConfig
	now      func() time.Time
	circuits map[string]*circuit
}

// NewCircuitBreaker creates a breaker with the given config.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	return &CircuitBreaker{
		config:   config,
		now:      time.Now,
		circuits: make(map[string]*circuit),
	}
}

// Allow returns nil when a call to endpoint may proceed, or a CIRCUIT_OPEN error.
// After the cooldown exactly one probe is let through; its outcome closes or reopens the circuit.
func (b *CircuitBreaker) Allow(endpoint string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(endpoint)

	switch c.state {
	case CircuitOpen:
		if b.now().Sub(c.openedAt) < b.config.Cooldown {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit open for %s after %d consecutive failures", endpoint, c.failures).
				WithDetails(map[string]any{
					"endpoint":           endpoint,
					"failures":           c.failures,
					"cooldown_remaining": (b.config.Cooldown - b.now().Sub(c.openedAt)).String(),
				})
		}
		c.state = CircuitHalfOpen
		c.probing = true
		return nil
	case CircuitHalfOpen:
		if c.probing {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen, "circuit half-open for %s: probe in flight", endpoint)
		}
		c.probing = true
		return nil
	default:
		return nil
	}
}

// Success records a successful call and closes the circuit.
func (b *CircuitBreaker) Success(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(endpoint)
	c.state = CircuitClosed
	c.failures = 0
	c.probing = false
}

// Failure records a failed call and returns the resulting state.
func (b *CircuitBreaker) Failure(endpoint string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(endpoint)
	c.failures++
	c.probing = false
	if c.state == CircuitHalfOpen || c.failures >= b.config.FailureThreshold {
		c.state = CircuitOpen
		c.openedAt = b.now()
	}
	return c.state
}

// State returns the current state of endpoint's circuit.
func (b *CircuitBreaker) State(endpoint string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(endpoint).state
}

func (b *CircuitBreaker) get(endpoint string) *circuit {
	c, ok := b.circuits[endpoint]
	if !ok {
		c = &circuit{}
		b.circuits[endpoint] = c
	}
	return c
}
