package nbformat

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
)

// SignatureStore remembers the signatures of trusted notebooks.
type SignatureStore interface {
	Store(ctx context.Context, signature string) error
	Has(ctx context.Context, signature string) (bool, error)
}

// MemorySignatures is a process-local SignatureStore.
type MemorySignatures struct {
	mu   sync.RWMutex
	sigs map[string]struct{}
}

// NewMemorySignatures returns an empty store.
func NewMemorySignatures() *MemorySignatures {
	return &MemorySignatures{sigs: make(map[string]struct{})}
}

func (m *MemorySignatures) Store(_ context.Context, signature string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sigs[signature] = struct{}{}
	return nil
}

func (m *MemorySignatures) Has(_ context.Context, signature string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sigs[signature]
	return ok, nil
}

// Notary signs notebooks whose output the user has trusted and recognises
// them when they are read back.
type Notary struct {
	secret []byte
	store  SignatureStore
	logger *slog.Logger
}

// NewNotary returns a notary keyed with secret. An empty secret is replaced
// by a random one, so signatures only hold for the life of the process.
func NewNotary(secret []byte, store SignatureStore, logger *slog.Logger) (*Notary, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("nbformat: generate notary secret: %w", err)
		}
	}
	if store == nil {
		store = NewMemorySignatures()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notary{secret: secret, store: store, logger: logger}, nil
}

// Compute returns the signature of nb, ignoring transient trust flags.
func (n *Notary) Compute(nb Notebook) (string, error) {
	c := nb.Clone()
	StripTransient(c)
	if m := c.Metadata(); m != nil {
		delete(m, "signature")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("nbformat: sign: %w", err)
	}
	mac := hmac.New(sha256.New, n.secret)
	mac.Write(data)
	return "sha256:" + hex.EncodeToString(mac.Sum(nil)), nil
}

// Sign records nb as trusted.
func (n *Notary) Sign(ctx context.Context, nb Notebook) error {
	sig, err := n.Compute(nb)
	if err != nil {
		return err
	}
	return n.store.Store(ctx, sig)
}

// Check reports whether nb was signed.
func (n *Notary) Check(ctx context.Context, nb Notebook) (bool, error) {
	sig, err := n.Compute(nb)
	if err != nil {
		return false, err
	}
	return n.store.Has(ctx, sig)
}

// MarkTrustedCells flags every code cell with whether nb is signed.
func (n *Notary) MarkTrustedCells(ctx context.Context, nb Notebook, path string) {
	trusted, err := n.Check(ctx, nb)
	if err != nil {
		n.logger.Warn("notebook signature check failed",
			slog.String("path", path), slog.String("error", err.Error()))
	}
	if !trusted {
		n.logger.Debug("notebook is not trusted", slog.String("path", path))
	}
	MarkCells(nb, trusted)
}

// CheckAndSign signs nb when all of its code cells are trusted.
func (n *Notary) CheckAndSign(ctx context.Context, nb Notebook, path string) {
	if !CheckCells(nb) {
		n.logger.Warn("saving untrusted notebook", slog.String("path", path))
		return
	}
	if err := n.Sign(ctx, nb); err != nil {
		n.logger.Warn("notebook signing failed",
			slog.String("path", path), slog.String("error", err.Error()))
	}
}
