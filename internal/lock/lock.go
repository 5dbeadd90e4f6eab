// Package lock provides keyed mutual exclusion for ledger writes. Keys are
// acquired in sorted order so two operations touching overlapping keys can
// never deadlock each other.
package lock

import (
	"context"
	"errors"
	"sort"
)

// ErrNotObtained is returned when a lock could not be acquired before the context ended
var ErrNotObtained = errors.New("lock not obtained")

// Locker acquires a set of keys at once
type Locker interface {
	// Acquire blocks until every key is held or ctx ends. The returned release
	// function frees all keys and is safe to call more than once.
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// StockKey is the lock key for a material and color pair
func StockKey(materialKey, colorKey string) string {
	return "stock:" + materialKey + "|" + colorKey
}

// CustomerKey is the lock key for a customer balance
func CustomerKey(phone string) string {
	return "customer:" + phone
}

// NormalizeKeys sorts keys and removes duplicates and empty entries
func NormalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
