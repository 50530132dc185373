package entities

import "time"

// StateChange is a local mutation the management tier must eventually
// observe. Rows are written in the same unit of work as the mutation itself
// and flipped to synced only on confirmed remote acknowledgment.
type StateChange struct {
	ID        int       `json:"id"`
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	Synced    bool      `json:"synced"`
	CreatedAt time.Time `json:"created_at"`
}

// ResourceChange is a local resource allocation mutation pending propagation.
type ResourceChange struct {
	ID        int       `json:"id"`
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	Synced    bool      `json:"synced"`
	CreatedAt time.Time `json:"created_at"`
}

// Cluster is one entry of the management tier's cluster registry, pulled
// read-through by the reconciler.
type Cluster struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Region   string `json:"region"`
	Endpoint string `json:"endpoint"`
	Active   bool   `json:"active"`
}
