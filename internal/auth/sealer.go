package auth

import "context"

// Sealer decrypts (Open) and encrypts (Seal) credential material at rest.
// It is an external collaborator per spec.md §1 — the credential envelope
// crypto itself is out of scope; CWatcher only defines this interface and
// ships a test-grade implementation. Generalized from this package's own
// Provider interface (acquire/inject a bearer token) to the symmetric
// open/seal shape a real envelope (e.g. AES-256-GCM) needs.
type Sealer interface {
	Open(ctx context.Context, sealed []byte) ([]byte, error)
	Seal(ctx context.Context, plaintext []byte) ([]byte, error)
}

// PlaintextSealer is a no-op Sealer: Open/Seal are the identity function.
// It exists only for tests and single-process demo deployments that have
// not wired a real envelope — never for production use, since it stores
// "sealed" material as plaintext.
type PlaintextSealer struct{}

func (PlaintextSealer) Open(_ context.Context, sealed []byte) ([]byte, error) { return sealed, nil }
func (PlaintextSealer) Seal(_ context.Context, plaintext []byte) ([]byte, error) {
	return plaintext, nil
}
