package model

import "time"

// TransitionLock is an advisory lock document serializing status
// transitions for one booking. The _id is a deterministic key derived from
// the booking ID; a duplicate-key error on insert means another request
// holds the lock. A TTL index on expires_at reaps locks abandoned by
// crashed processes.
type TransitionLock struct {
	ID        string    `bson:"_id"`
	ExpiresAt time.Time `bson:"expires_at"`
	CreatedAt time.Time `bson:"created_at"`
}
