// Package cache provides a small generic LRU with TTL. The budget service
// uses it for budget and month documents; entries are invalidated whenever
// a recalculation result lands, never mutated by the engine itself.
package cache

// Cache defines a generic cache interface
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	DeletePrefix(prefix string) int
	Size() int
}
