// Package bufpool provides object pooling for hot paths: byte buffers
// for pkg/codec's compression scratch space and string slices for
// pkg/materialize's heads fingerprinting, reducing allocation churn on
// large saves and repeated cached reads.
//
// Mirrors the teacher's pkg/pool: a global PoolConfig toggles pooling
// and caps the size of object returned to the pool, backed by
// sync.Pool.
package bufpool

import "sync"

// Config configures pooling behavior.
type Config struct {
	// Enabled controls whether pooling is active.
	Enabled bool

	// MaxSize caps the capacity of a buffer/slice accepted back into the
	// pool; oversized ones are dropped so one large document doesn't
	// permanently bloat the pool's steady-state memory.
	MaxSize int
}

var globalConfig = Config{Enabled: true, MaxSize: 1 << 20}

// Configure sets global pool configuration. Should be called early
// during initialization (e.g. from pkg/docconfig's loader).
func Configure(c Config) {
	globalConfig = c
}

// IsEnabled returns whether pooling is active.
func IsEnabled() bool { return globalConfig.Enabled }

var byteBufferPool = sync.Pool{
	New: func() any { return make([]byte, 0, 4096) },
}

// GetBytes returns a zero-length byte slice from the pool.
func GetBytes() []byte {
	if !globalConfig.Enabled {
		return make([]byte, 0, 4096)
	}
	return byteBufferPool.Get().([]byte)[:0]
}

// PutBytes returns a byte slice to the pool.
func PutBytes(b []byte) {
	if !globalConfig.Enabled || cap(b) > globalConfig.MaxSize {
		return
	}
	byteBufferPool.Put(b[:0])
}

var hashSlicePool = sync.Pool{
	New: func() any { return make([]string, 0, 16) },
}

// GetStrings returns a zero-length string slice from the pool, used for
// transient hash-string accumulation in pkg/materialize.
func GetStrings() []string {
	if !globalConfig.Enabled {
		return make([]string, 0, 16)
	}
	return hashSlicePool.Get().([]string)[:0]
}

// PutStrings returns a string slice to the pool.
func PutStrings(s []string) {
	if !globalConfig.Enabled || cap(s) > globalConfig.MaxSize {
		return
	}
	hashSlicePool.Put(s[:0])
}
