package access

import "time"

// IsWithinThresholdPeriod reports whether t is newer than now minus pattern.
func IsWithinThresholdPeriod(t time.Time, pattern string) (bool, error) {
	return isWithinThreshold(time.Now(), t, pattern)
}

// IsOutsideThresholdPeriod is the negation of IsWithinThresholdPeriod
func IsOutsideThresholdPeriod(t time.Time, pattern string) (bool, error) {
	within, err := IsWithinThresholdPeriod(t, pattern)
	if err != nil {
		return false, err
	}
	return !within, nil
}

// CoolDownEndsAt returns when failed attempts recorded at lastAttempt stop
// counting against an account.
func CoolDownEndsAt(lastAttempt time.Time) (time.Time, error) {
	window, err := time.ParseDuration(CoolDownPeriod)
	if err != nil {
		return time.Time{}, err
	}
	return lastAttempt.Add(window), nil
}

func isWithinThreshold(now, t time.Time, pattern string) (bool, error) {
	window, err := time.ParseDuration(pattern)
	if err != nil {
		return false, err
	}
	return t.After(now.Add(-window)), nil
}
