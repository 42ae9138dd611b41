// Package cache provides the local durable key-value store used by the
// form synchronizer for offline fallback and startup speed. It is not
// authoritative; the remote store always wins on reload.
package cache

import "errors"

// ErrQuotaExceeded is returned by Set when writing the value would push
// the store past its configured capacity. Callers are expected to trim
// and retry rather than treat it as fatal.
var ErrQuotaExceeded = errors.New("cache: quota exceeded")

// Store is a flat key-value surface. Get reports presence with its
// second return; Set may fail with ErrQuotaExceeded; Delete is
// idempotent.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Delete(key string)
}
