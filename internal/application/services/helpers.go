package services

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"
)

// ComputeHash fingerprints a request so a reused idempotency key with
// different parameters can be told apart from a genuine retry.
func ComputeHash(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		data = fmt.Appendf(nil, "%+v", v)
	}
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}

// backoff returns base*2^attempt with up to 20% jitter, capped at max.
func backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16
	}
	d := base * time.Duration(1<<attempt)
	if d <= 0 || d > max {
		d = max
	}
	jitter := time.Duration(rand.Int64N(int64(d/5) + 1))
	return d + jitter
}

func ptr[T any](v T) *T {
	return &v
}
