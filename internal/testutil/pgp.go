package testutil

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"       //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/ProtonMail/go-crypto/openpgp/armor" //nolint:staticcheck // Using ProtonMail's maintained fork
)

// NewSigningKey generates a throwaway OpenPGP key.
func NewSigningKey(t *testing.T, name string) *openpgp.Entity {
	t.Helper()
	entity, err := openpgp.NewEntity(name, "test", name+"@example.com", nil)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return entity
}

// WriteKeyring writes the public half of entities to dir/name, armored
// when the name ends in ".asc".
func WriteKeyring(t *testing.T, dir, name string, entities ...*openpgp.Entity) string {
	t.Helper()
	var buf bytes.Buffer
	var w io.Writer = &buf
	var aw io.WriteCloser
	if strings.HasSuffix(name, ".asc") {
		var err error
		aw, err = armor.Encode(&buf, openpgp.PublicKeyType, nil)
		if err != nil {
			t.Fatalf("failed to open armor: %v", err)
		}
		w = aw
	}
	for _, e := range entities {
		if err := e.Serialize(w); err != nil {
			t.Fatalf("failed to serialize key: %v", err)
		}
	}
	if aw != nil {
		if err := aw.Close(); err != nil {
			t.Fatalf("failed to close armor: %v", err)
		}
	}

	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("failed to write keyring: %v", err)
	}
	return p
}

// SignFile writes a detached signature for path next to it: path+".asc"
// when armored, path+".sig" otherwise.
func SignFile(t *testing.T, signer *openpgp.Entity, path string, armored bool) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}

	var sig bytes.Buffer
	sigPath := path + ".sig"
	if armored {
		sigPath = path + ".asc"
		err = openpgp.ArmoredDetachSign(&sig, signer, bytes.NewReader(data), nil)
	} else {
		err = openpgp.DetachSign(&sig, signer, bytes.NewReader(data), nil)
	}
	if err != nil {
		t.Fatalf("failed to sign %s: %v", path, err)
	}
	if err := os.WriteFile(sigPath, sig.Bytes(), 0o600); err != nil {
		t.Fatalf("failed to write signature: %v", err)
	}
	return sigPath
}
