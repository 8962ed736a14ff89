package resourceprovider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Amund211/weakcache/internal/domain"
)

type ResourceProvider interface {
	GetResource(ctx context.Context, key string) (*domain.Resource, error)
}

// synthetic builds resources deterministically from their key. The payload
// only depends on the key, the generation and creation time do not.
type synthetic struct {
	sizeBytes  int
	nowFunc    func() time.Time
	generation atomic.Int64
}

func NewSynthetic(sizeBytes int, nowFunc func() time.Time) ResourceProvider {
	return &synthetic{sizeBytes: sizeBytes, nowFunc: nowFunc}
}

func (p *synthetic) GetResource(ctx context.Context, key string) (*domain.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTemporarilyUnavailable, err)
	}

	payload := make([]byte, p.sizeBytes)
	block := sha256.Sum256([]byte(key))
	for offset := 0; offset < len(payload); offset += len(block) {
		copy(payload[offset:], block[:])
		block = sha256.Sum256(block[:])
	}

	digest := sha256.Sum256(payload)

	return &domain.Resource{
		Key:        key,
		Generation: p.generation.Add(1),
		CreatedAt:  p.nowFunc(),
		Digest:     hex.EncodeToString(digest[:]),
		Payload:    payload,
	}, nil
}
