// Package storage keeps the registry's durable blobs: the project list and the
// per-user, per-address transaction map.
package storage

import "errors"

// Keys of the two top-level blobs.
const (
	ProjectsKey     = "blueCarbonProjects"
	TransactionsKey = "blueCarbonTransactionsByUserAndAddress"
)

var ErrNotFound = errors.New("key not found")

// UpdateFunc receives the current value (nil when absent) and returns the value to store.
type UpdateFunc func(current []byte) ([]byte, error)

// Store is a key/value store of JSON blobs.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	// Update performs an atomic read-modify-write of a single key.
	Update(key string, fn UpdateFunc) error
	Close() error
}
