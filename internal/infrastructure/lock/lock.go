// Package lock serializes work on orders. RedisLocker coordinates several
// server processes; LocalLocker is the single-process fallback used when no
// Redis is configured.
package lock

import "errors"

var ErrEmptyKey = errors.New("lock key is empty")

// uniqueKeys drops repeats while keeping the caller's order. Taking the same
// key twice would deadlock the caller against itself.
func uniqueKeys(keys []string) ([]string, error) {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			return nil, ErrEmptyKey
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out, nil
}

// releaseAll runs release funcs in reverse acquisition order.
func releaseAll(releases []func()) func() {
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}

func orderKey(key string) string {
	return "pos:order-lock:" + key
}
