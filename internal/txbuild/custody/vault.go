// Package custody holds the service's own policy keys and signs with them.
// User keys never reach this package.
package custody

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/ledger"
	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

const keySuffix = ".skey"

// envelope is the text envelope cardano-cli writes signing keys in.
type envelope struct {
	Type    string `json:"type"`
	CBORHex string `json:"cborHex"`
}

// FileVault reads secrets from a directory. Signing keys live in
// <dir>/<keyID>.skey either as a text envelope or as a hex seed.
type FileVault struct {
	dir    string
	logger *zap.Logger

	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey
}

// NewFileVault opens dir, which must exist.
func NewFileVault(dir string, logger *zap.Logger) (*FileVault, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("open custody dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("custody path %s is not a directory", dir)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileVault{dir: dir, logger: logger.Named("custody"), keys: make(map[string]ed25519.PrivateKey)}, nil
}

// FetchSecret returns the raw content of the named secret.
func (v *FileVault) FetchSecret(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, model.Validation("invalid secret name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(v.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, model.Errorf(model.CodeInternal, "secret %s not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("read secret %s: %w", name, err)
	}
	return data, nil
}

// SignWithCustodialKey signs message with the key stored under keyID.
func (v *FileVault) SignWithCustodialKey(ctx context.Context, keyID string, message []byte) (ledger.VKeyWitness, error) {
	key, err := v.key(ctx, keyID)
	if err != nil {
		return ledger.VKeyWitness{}, err
	}
	return ledger.VKeyWitness{
		VKey:      append([]byte(nil), key.Public().(ed25519.PublicKey)...),
		Signature: ed25519.Sign(key, message),
	}, nil
}

// KeyHash returns the hex payment key hash of keyID, the value policies reference.
func (v *FileVault) KeyHash(ctx context.Context, keyID string) (string, error) {
	key, err := v.key(ctx, keyID)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(ledger.KeyHash(key.Public().(ed25519.PublicKey))), nil
}

func (v *FileVault) key(ctx context.Context, keyID string) (ed25519.PrivateKey, error) {
	v.mu.RLock()
	key, ok := v.keys[keyID]
	v.mu.RUnlock()
	if ok {
		return key, nil
	}

	raw, err := v.FetchSecret(ctx, keyID+keySuffix)
	if err != nil {
		return nil, err
	}
	seed, err := parseSeed(raw)
	if err != nil {
		return nil, fmt.Errorf("custodial key %s: %w", keyID, err)
	}
	key = ed25519.NewKeyFromSeed(seed)

	v.mu.Lock()
	v.keys[keyID] = key
	v.mu.Unlock()
	v.logger.Info("loaded custodial key", zap.String("key_id", keyID))
	return key, nil
}

func parseSeed(raw []byte) ([]byte, error) {
	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, "{") {
		var env envelope
		if err := json.Unmarshal([]byte(text), &env); err != nil {
			return nil, fmt.Errorf("decode key envelope: %w", err)
		}
		cborBytes, err := hex.DecodeString(env.CBORHex)
		if err != nil {
			return nil, fmt.Errorf("decode cborHex: %w", err)
		}
		var seed []byte
		if err := ledger.Unmarshal(cborBytes, &seed); err != nil {
			return nil, fmt.Errorf("decode key bytes: %w", err)
		}
		return checkSeed(seed)
	}
	seed, err := hex.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("decode hex seed: %w", err)
	}
	return checkSeed(seed)
}

func checkSeed(seed []byte) ([]byte, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key is %d bytes, want %d", len(seed), ed25519.SeedSize)
	}
	return seed, nil
}
