// Package blob provides durable binary storage for attachment payloads
// and export artifacts.
package blob

import (
	"context"
)

// Store accepts a named upload of binary content and returns a stable,
// fetchable reference.
type Store interface {
	Upload(ctx context.Context, folder, name string, data []byte, contentType string) (string, error)
}
