package accountdir

import "github.com/christian-oudard/signal-cli/internal/config"

// Resolve determines the active account using precedence:
// 1. flagOverride (--account flag)
// 2. config.toml default_account
// 3. the sole existing local account, if exactly one
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultAccount != "" {
		return cfg.DefaultAccount
	}
	accounts, err := List()
	if err == nil && len(accounts) == 1 {
		return accounts[0]
	}
	return ""
}
