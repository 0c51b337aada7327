package accountdir

import (
	"strings"
	"testing"
)

func TestPathsUnderAccountDir(t *testing.T) {
	account := "+14155550101"
	dir := Dir(account)

	for name, path := range map[string]string{
		"lock":        LockPath(account),
		"db":          DBPath(account),
		"avatars":     AvatarDir(account),
		"attachments": AttachmentDir(account),
		"logs":        LogPath(account),
	} {
		if !strings.HasPrefix(path, dir) {
			t.Errorf("%s path %q not under account dir %q", name, path, dir)
		}
	}
}

func TestEnsureDirAndExists(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	account := "+14155550101"

	if Exists(account) {
		t.Fatal("account exists before EnsureDir")
	}
	if err := EnsureDir(account); err != nil {
		t.Fatal(err)
	}
	if !Exists(account) {
		t.Error("account missing after EnsureDir")
	}

	accounts, err := List()
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 || accounts[0] != account {
		t.Errorf("List() = %v, want [%s]", accounts, account)
	}
}
