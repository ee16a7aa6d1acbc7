package session

import (
	"os"
	"strings"

	"github.com/Sunnycharan27/loopyncsuperapp/internal/config"
)

const DefaultSessionName = "main"

// Resolve determines the active session name using precedence:
// 1. flagOverride (--session flag)
// 2. config.toml default_session
// 3. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultSession != "" {
		return cfg.DefaultSession
	}
	return DefaultSessionName
}

// Credential reads the session's bearer token, preferring the
// LOOPYNC_TOKEN environment variable over the credential file.
func Credential(name string) (string, error) {
	if tok := os.Getenv("LOOPYNC_TOKEN"); tok != "" {
		return tok, nil
	}
	data, err := os.ReadFile(CredentialPath(name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
