package cache

import "fmt"

// RateLimitKey is the admission counter key for a caller.
func RateLimitKey(subject string) string {
	return fmt.Sprintf("gatekeeper:ratelimit:%s", subject)
}
