// Package modules loads script modules from a directory, optionally requiring
// each module to carry a valid OpenPGP detached signature or to match a
// SHA-256 manifest.
//
// Module "a.b" lives at <dir>/a/b.lua. Its signature, when a keyring is
// configured, is <dir>/a/b.lua.sig (binary) or <dir>/a/b.lua.asc (armored).
// Whether a script may load a module at all is decided by the sandbox
// policy before the loader is called.
package modules

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork

	"github.com/ZebulonRouseFrantzich/luaguard/internal/logging"
)

var (
	ErrInvalidName      = errors.New("invalid module name")
	ErrNotFound         = errors.New("module not found")
	ErrUnsigned         = errors.New("module is not signed")
	ErrBadSignature     = errors.New("module signature is invalid")
	ErrNoChecksum       = errors.New("module is missing from the checksum manifest")
	ErrChecksumMismatch = errors.New("module checksum mismatch")
)

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Loader reads modules from a directory.
type Loader struct {
	dir       string
	keyring   openpgp.EntityList
	checksums map[string]string
	logger    logging.Logger
}

// Option configures a Loader.
type Option func(*Loader) error

// WithKeyring requires every module to be signed by a key in keyring.
func WithKeyring(keyring openpgp.EntityList) Option {
	return func(l *Loader) error {
		if len(keyring) == 0 {
			return fmt.Errorf("keyring is empty")
		}
		l.keyring = keyring
		return nil
	}
}

// WithChecksumFile requires every module to be listed in a sha256sum-style
// manifest ("<hex>  <path relative to dir>" per line).
func WithChecksumFile(path string) Option {
	return func(l *Loader) error {
		sums, err := readChecksums(path)
		if err != nil {
			return err
		}
		l.checksums = sums
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(l *Loader) error {
		l.logger = logger
		return nil
	}
}

// NewLoader returns a loader for modules under dir.
func NewLoader(dir string, opts ...Option) (*Loader, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve module dir: %w", err)
	}
	l := &Loader{dir: abs}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	l.logger = logging.OrNoop(l.logger)
	return l, nil
}

// Dir returns the absolute module directory.
func (l *Loader) Dir() string {
	return l.dir
}

// ValidateName checks that name is a dotted identifier path.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Path returns the file a module name resolves to. Symlinks are allowed as
// long as their target is inside the module directory.
func (l *Loader) Path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	rel := strings.ReplaceAll(name, ".", "/") + ".lua"
	p := filepath.Join(l.dir, filepath.FromSlash(rel))

	if !within(l.dir, p) {
		return "", fmt.Errorf("%w: %q escapes the module directory", ErrInvalidName, name)
	}

	// A module that exists must also stay inside once symlinks are followed.
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return p, nil
	}
	root, err := filepath.EvalSymlinks(l.dir)
	if err != nil {
		return "", fmt.Errorf("resolve module dir: %w", err)
	}
	if !within(root, resolved) {
		return "", fmt.Errorf("%w: %q resolves outside the module directory", ErrInvalidName, name)
	}
	return p, nil
}

// within reports whether p is dir or lies below it.
func within(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Load returns the source of module name after verifying it.
func (l *Loader) Load(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, err := l.Path(name)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("read module %s: %w", name, err)
	}

	if l.checksums != nil {
		if err := l.verifyChecksum(p, data); err != nil {
			return "", fmt.Errorf("module %s: %w", name, err)
		}
	}
	if l.keyring != nil {
		signer, err := l.verifySignature(p, data)
		if err != nil {
			return "", fmt.Errorf("module %s: %w", name, err)
		}
		l.logger.Debug("verified module signature", "module", name, "signer", signer)
	}
	return string(data), nil
}

// verifySignature checks data against <path>.sig or <path>.asc and returns
// the signer's primary identity.
func (l *Loader) verifySignature(path string, data []byte) (string, error) {
	var sig []byte
	for _, ext := range []string{".sig", ".asc"} {
		b, err := os.ReadFile(path + ext)
		if err == nil {
			sig = b
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read signature: %w", err)
		}
	}
	if sig == nil {
		return "", ErrUnsigned
	}

	// Armored first, then binary.
	signer, err := openpgp.CheckArmoredDetachedSignature(l.keyring, bytes.NewReader(data), bytes.NewReader(sig), nil)
	if err != nil {
		signer, err = openpgp.CheckDetachedSignature(l.keyring, bytes.NewReader(data), bytes.NewReader(sig), nil)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	for id := range signer.Identities {
		return id, nil
	}
	return signer.PrimaryKey.KeyIdString(), nil
}

func (l *Loader) verifyChecksum(path string, data []byte) error {
	rel, err := filepath.Rel(l.dir, path)
	if err != nil {
		return err
	}
	want, ok := l.checksums[filepath.ToSlash(rel)]
	if !ok {
		return ErrNoChecksum
	}
	sum := sha256.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if !strings.EqualFold(got, want) {
		return fmt.Errorf("%w:\nactual:   %s\nexpected: %s", ErrChecksumMismatch, got, want)
	}
	return nil
}
