package contents

import (
	"context"
	"fmt"
	"time"

	"github.com/starford/nbstore/internal/docstore"
	"github.com/starford/nbstore/internal/nbformat"
)

// Signatures keeps notebook trust signatures in a docstore collection.
type Signatures struct {
	session *docstore.Session
	coll    string
}

var _ nbformat.SignatureStore = (*Signatures)(nil)

// NewSignatures returns a signature store on the named collection.
func NewSignatures(session *docstore.Session, coll string) *Signatures {
	return &Signatures{session: session, coll: coll}
}

// EnsureIndexes makes each signature unique.
func (s *Signatures) EnsureIndexes(ctx context.Context) error {
	c, err := s.session.Collection(ctx, s.coll)
	if err != nil {
		return err
	}
	return c.EnsureUniqueIndex(ctx, "signature")
}

func (s *Signatures) Store(ctx context.Context, signature string) error {
	c, err := s.session.Collection(ctx, s.coll)
	if err != nil {
		return err
	}
	_, err = c.Update(ctx, docstore.Filter{"signature": signature},
		docstore.Document{"last_seen": time.Now().UTC()}, docstore.UpdateOptions{Upsert: true})
	if err != nil {
		return fmt.Errorf("contents: store signature: %w", err)
	}
	return nil
}

func (s *Signatures) Has(ctx context.Context, signature string) (bool, error) {
	c, err := s.session.Collection(ctx, s.coll)
	if err != nil {
		return false, err
	}
	n, err := c.Count(ctx, docstore.Filter{"signature": signature})
	if err != nil {
		return false, fmt.Errorf("contents: look up signature: %w", err)
	}
	return n > 0, nil
}
