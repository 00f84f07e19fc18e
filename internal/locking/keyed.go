// Package locking provides mutexes registered by key, used to serialize
// order transitions per order ID and fee settlements per restaurant ID.
package locking

import (
	"sync"
)

type Keyed struct {
	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyed() *Keyed {
	return &Keyed{
		locks: make(map[string]*sync.Mutex),
	}
}

func (k *Keyed) get(key string) *sync.Mutex {
	k.mutex.Lock()
	defer k.mutex.Unlock()

	lock, exists := k.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	return lock
}

func (k *Keyed) Lock(key string) {
	k.get(key).Lock()
}

func (k *Keyed) Unlock(key string) {
	k.get(key).Unlock()
}
