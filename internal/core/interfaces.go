// Package core defines the interfaces shared by the service components.
package core

import (
	"context"

	"github.com/book-expert/voice-model-service/internal/cart"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// GraphSource resolves a decision graph by its object store key.
type GraphSource interface {
	Graph(ctx context.Context, key string) (*cart.Graph, error)
}
