package sessions

import "time"

// Every expiry in the system is computed from these constants through a
// Clock. Changing a policy means editing the one named constant for that
// purpose, nothing else.
const (
	// AccessGrantLifetime is how long a short-lived access grant stays valid.
	AccessGrantLifetime = 30 * time.Minute

	// SessionLifetime is the window of a refresh session created on login.
	SessionLifetime = 30 * 24 * time.Hour

	// EmailVerificationLifetime bounds email-confirmation artifacts.
	EmailVerificationLifetime = 20 * 24 * time.Hour

	// PasswordResetLifetime bounds password-reset artifacts.
	PasswordResetLifetime = 24 * time.Hour
)

// Clock is the single source of truth for the current instant and for
// expiry arithmetic.
type Clock interface {
	Now() time.Time
	ExpiryAfter(d time.Duration) time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

func (SystemClock) ExpiryAfter(d time.Duration) time.Time {
	return time.Now().Add(d)
}

// FixedClock pins the current instant, for tests.
type FixedClock struct {
	Instant time.Time
}

func (c FixedClock) Now() time.Time {
	return c.Instant
}

func (c FixedClock) ExpiryAfter(d time.Duration) time.Time {
	return c.Instant.Add(d)
}

var _ Clock = SystemClock{}
var _ Clock = FixedClock{}

// IsWithinThresholdPeriod checks if the given time is within the threshold
// window ending at now. Callers pass their Clock's instant so the window
// moves with the injected clock, not the wall clock.
func IsWithinThresholdPeriod(now, t time.Time, pattern string) (bool, error) {
	duration, err := time.ParseDuration(pattern)
	if err != nil {
		return false, err
	}

	threshold := now.Add(-duration)
	if t.After(threshold) {
		return true, nil
	}

	return false, nil
}

// IsOutsideThresholdPeriod is the negation of IsWithinThresholdPeriod
func IsOutsideThresholdPeriod(now, t time.Time, pattern string) (bool, error) {
	valid, err := IsWithinThresholdPeriod(now, t, pattern)
	if err != nil {
		return false, err
	}

	return !valid, nil
}
