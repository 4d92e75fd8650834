// Package media provides the image upload gateway. The gateway accepts a
// binary payload and returns a stable content URL; it performs no
// compression or encoding and no retries of its own.
package media

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Uploader accepts an image payload and returns its hosted URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, name string) (string, error)
}

// Fake is an Uploader for tests and development without upload credentials.
// It hands out deterministic URLs and records nothing.
type Fake struct {
	n atomic.Int64
}

// NewFake returns a fake uploader.
func NewFake() *Fake { return &Fake{} }

func (f *Fake) Upload(_ context.Context, data []byte, name string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("media: empty payload")
	}
	return fmt.Sprintf("https://media.invalid/%s-%d.jpg", name, f.n.Add(1)), nil
}
