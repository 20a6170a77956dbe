package calsync

import (
	"reflect"
	"sync"
)

// LockKeyer lets a mapping store name the table it persists, so that two
// store values pointing at the same table share one lock.
type LockKeyer interface {
	LockKey() string
}

// tableLocks serializes entry points per mapping table.
var tableLocks sync.Map

// lockFor returns the mutex guarding m's table. Stores that are neither
// LockKeyers nor comparable get a lock of their own.
func lockFor(m MappingStore) *sync.Mutex {
	var key any
	switch {
	case isKeyer(m):
		key = "table:" + m.(LockKeyer).LockKey()
	case reflect.TypeOf(m).Comparable():
		key = m
	default:
		return &sync.Mutex{}
	}
	v, _ := tableLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func isKeyer(m MappingStore) bool {
	_, ok := m.(LockKeyer)
	return ok
}
