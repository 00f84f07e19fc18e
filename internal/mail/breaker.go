package mail

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var ErrBreakerOpen = errors.New("mail transport breaker is open")

type BreakerConfig struct {
	MaxFailures int
	Timeout     time.Duration
	MaxRequests int
}

// Breaker trips after MaxFailures consecutive delivery failures, rejects
// sends for Timeout, then lets up to MaxRequests probes through half-open.
type Breaker struct {
	maxFailures int
	timeout     time.Duration
	maxRequests int

	mutex        sync.Mutex
	state        State
	failures     int
	requests     int
	lastFailTime time.Time

	logger *logrus.Logger
}

func NewBreaker(config BreakerConfig, logger *logrus.Logger) *Breaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 1
	}

	return &Breaker{
		maxFailures: config.MaxFailures,
		timeout:     config.Timeout,
		maxRequests: config.MaxRequests,
		state:       StateClosed,
		logger:      logger,
	}
}

func (b *Breaker) Execute(fn func() error) error {
	b.mutex.Lock()

	if b.state == StateOpen {
		if time.Since(b.lastFailTime) > b.timeout {
			b.setState(StateHalfOpen)
			b.requests = 0
		} else {
			b.mutex.Unlock()
			return ErrBreakerOpen
		}
	}

	if b.state == StateHalfOpen && b.requests >= b.maxRequests {
		b.mutex.Unlock()
		return ErrBreakerOpen
	}

	if b.state == StateHalfOpen {
		b.requests++
	}
	b.mutex.Unlock()

	err := fn()

	b.mutex.Lock()
	defer b.mutex.Unlock()

	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) onSuccess() {
	b.failures = 0
	if b.state == StateHalfOpen {
		b.setState(StateClosed)
		b.requests = 0
	}
}

func (b *Breaker) onFailure() {
	b.failures++
	b.lastFailTime = time.Now()

	if b.state == StateClosed && b.failures >= b.maxFailures {
		b.setState(StateOpen)
	} else if b.state == StateHalfOpen {
		b.setState(StateOpen)
		b.requests = 0
	}
}

func (b *Breaker) setState(newState State) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState

	b.logger.WithFields(logrus.Fields{
		"from_state": oldState.String(),
		"to_state":   newState.String(),
	}).Info("Mail breaker state changed")
}

func (b *Breaker) State() State {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.state
}
