package group

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/christian-oudard/signal-cli/internal/store"
)

// MasterKeySize is the size of a group's root key material.
const MasterKeySize = 32

const linkPasswordSize = 16

const inviteLinkPrefix = "https://signal.group/#"

// NewMasterKey generates fresh group key material.
func NewMasterKey() ([]byte, error) {
	key := make([]byte, MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	return key, nil
}

// NewLinkPassword generates a fresh invite-link password. Rotating the
// password revokes all previously shared links.
func NewLinkPassword() ([]byte, error) {
	pw := make([]byte, linkPasswordSize)
	if _, err := rand.Read(pw); err != nil {
		return nil, fmt.Errorf("generate link password: %w", err)
	}
	return pw, nil
}

// DeriveID derives the stable group identifier from the master key.
func DeriveID(masterKey []byte) (store.GroupID, error) {
	if len(masterKey) != MasterKeySize {
		return "", fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(masterKey))
	}
	h := hkdf.New(sha256.New, masterKey, nil, []byte("Signal Group ID"))
	id := make([]byte, 32)
	if _, err := io.ReadFull(h, id); err != nil {
		return "", fmt.Errorf("derive group id: %w", err)
	}
	return store.GroupID(base64.StdEncoding.EncodeToString(id)), nil
}

// InviteLink encodes the master key and link password into a shareable URL.
func InviteLink(masterKey, password []byte) string {
	token := make([]byte, 0, len(masterKey)+len(password))
	token = append(token, masterKey...)
	token = append(token, password...)
	return inviteLinkPrefix + base64.RawURLEncoding.EncodeToString(token)
}

// ParseInviteLink decodes an invite link URL into master key and password.
func ParseInviteLink(link string) (masterKey, password []byte, err error) {
	encoded, ok := strings.CutPrefix(link, inviteLinkPrefix)
	if !ok {
		return nil, nil, fmt.Errorf("not a group invite link: %q", link)
	}
	token, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, nil, fmt.Errorf("decode invite token: %w", err)
	}
	if len(token) != MasterKeySize+linkPasswordSize {
		return nil, nil, fmt.Errorf("invite token has wrong length %d", len(token))
	}
	return token[:MasterKeySize], token[MasterKeySize:], nil
}
