package domain

import "time"

// Resource is the value held in the resource cache
type Resource struct {
	Key string
	// Incremented for every resource created by a provider. Two lookups that
	// return the same generation got the same cached value.
	Generation int64
	CreatedAt  time.Time
	Digest     string
	Payload    []byte
}

func (r *Resource) SizeBytes() int {
	return len(r.Payload)
}
