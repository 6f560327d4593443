package retry

import (
	"fmt"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	defaultExponentialInitial = 2 * time.Second
	defaultExponentialMax     = 30 * time.Second
	defaultConstantValue      = 10 * time.Second

	// maxShift bounds 2^attempt so the multiplication cannot overflow int64 nanoseconds.
	maxShift = 62
)

// Policy maps a zero-based failed attempt counter to the wait before the next attempt.
// Params: attempt is 0 for the first retry and grows after every failure.
// Returns: non-negative delay.
type Policy interface {
	Delay(attempt int) time.Duration
}

// Constant waits the same amount before every attempt.
// Params: Value is the fixed delay; negative values are clamped to zero.
// Returns: constant retry policy.
type Constant struct {
	Value time.Duration
}

// Delay returns configured constant delay.
// Params: attempt is ignored.
// Returns: non-negative delay.
func (p Constant) Delay(int) time.Duration {
	if p.Value < 0 {
		return 0
	}
	return p.Value
}

// Exponential doubles the delay per attempt until Max.
// Params: Initial base delay, Max cap, Jitter fraction in [0,1] shaving a deterministic slice off each delay.
// Returns: exponential retry policy, monotonic non-decreasing when Jitter is zero.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
}

// Delay computes min(Initial * 2^attempt, Max) with overflow protection.
// Params: attempt zero-based counter; negative values are treated as zero.
// Returns: non-negative delay.
func (p Exponential) Delay(attempt int) time.Duration {
	initial := p.Initial
	if initial < 0 {
		initial = 0
	}
	limit := p.Max
	if limit <= 0 {
		limit = time.Duration(math.MaxInt64)
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := limit
	if initial == 0 {
		delay = 0
	} else if attempt < maxShift {
		factor := int64(1) << uint(attempt)
		if int64(initial) <= math.MaxInt64/factor {
			delay = min(time.Duration(int64(initial)*factor), limit)
		}
	}

	if p.Jitter <= 0 || delay == 0 {
		return delay
	}
	jitter := math.Min(p.Jitter, 1)
	shave := time.Duration(float64(delay) * jitter * attemptFraction(attempt))
	if shave > delay {
		return 0
	}
	return delay - shave
}

// attemptFraction derives a stable pseudo-random fraction in [0,1) from the attempt number.
func attemptFraction(attempt int) float64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(strconv.Itoa(attempt)))
	return float64(hasher.Sum64()%10000) / 10000
}

// DefaultExponential returns exponential policy with agent defaults.
// Params: none.
// Returns: policy starting at 2s capped at 30s.
func DefaultExponential() Exponential {
	return Exponential{Initial: defaultExponentialInitial, Max: defaultExponentialMax}
}

// Config is the declarative retry section of a plugin.
// Params: Type exponential|constant; Initial/Max/Jitter for exponential; Value for constant.
// Returns: parsed settings consumed by Build.
type Config struct {
	Type    string
	Initial time.Duration
	Max     time.Duration
	Value   time.Duration
	Jitter  float64
}

// Build resolves declarative retry settings into a Policy with defaults for unset fields.
// Params: cfg retry section; empty type means exponential.
// Returns: policy or error for unknown type and invalid values.
func Build(cfg Config) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "exponential":
		policy := DefaultExponential()
		if cfg.Initial > 0 {
			policy.Initial = cfg.Initial
		}
		if cfg.Max > 0 {
			policy.Max = cfg.Max
		}
		if policy.Max < policy.Initial {
			return nil, fmt.Errorf("retry.max (%s) must be >= retry.initial (%s)", policy.Max, policy.Initial)
		}
		if cfg.Jitter < 0 || cfg.Jitter > 1 {
			return nil, fmt.Errorf("retry.jitter must be within 0..1")
		}
		policy.Jitter = cfg.Jitter
		return policy, nil
	case "constant":
		value := cfg.Value
		if value <= 0 {
			value = defaultConstantValue
		}
		return Constant{Value: value}, nil
	default:
		return nil, fmt.Errorf("retry.type %q is not supported (must be exponential or constant)", cfg.Type)
	}
}
