package accountdir

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.signal-cli.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".signal-cli")
}

// DataDir returns the directory holding all account directories.
func DataDir() string {
	return filepath.Join(BaseDir(), "data")
}

// Dir returns the account-specific directory.
func Dir(account string) string {
	return filepath.Join(DataDir(), account)
}

// LockPath returns the lock file path for an account.
func LockPath(account string) string {
	return filepath.Join(Dir(account), "LOCK")
}

// DBPath returns the account database path.
func DBPath(account string) string {
	return filepath.Join(Dir(account), "account.db")
}

// AvatarDir returns the directory for downloaded group and profile avatars.
func AvatarDir(account string) string {
	return filepath.Join(Dir(account), "avatars")
}

// AttachmentDir returns the directory for received attachments.
func AttachmentDir(account string) string {
	return filepath.Join(Dir(account), "attachments")
}

// LogDir returns the log directory for an account.
func LogDir(account string) string {
	return filepath.Join(Dir(account), "logs")
}

// LogPath returns the daemon log file path.
func LogPath(account string) string {
	return filepath.Join(LogDir(account), "signal-clid.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// Exists reports whether an account directory has been created.
func Exists(account string) bool {
	info, err := os.Stat(Dir(account))
	return err == nil && info.IsDir()
}

// EnsureDir creates the account directory tree with proper permissions.
func EnsureDir(account string) error {
	dirs := []string{
		Dir(account),
		AvatarDir(account),
		AttachmentDir(account),
		LogDir(account),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}

// List returns the names of all local account directories.
func List() ([]string, error) {
	entries, err := os.ReadDir(DataDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var accounts []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			accounts = append(accounts, e.Name())
		}
	}
	return accounts, nil
}
