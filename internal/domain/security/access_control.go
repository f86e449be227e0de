// Package security implements role-based tool access control: a
// deny-before-allow glob matcher over role names and tool names.
// Grounded on original_source/security/access_control.py.
package security

import (
	"fmt"
	"path"
	"sync"

	"go.uber.org/zap"
)

// RoleConfig is the allow/deny glob list for one role.
type RoleConfig struct {
	Allow []string
	Deny  []string
}

// Config is the access-control policy: spec §6's security.* settings.
type Config struct {
	Enabled     bool
	DefaultRole string
	Roles       map[string]RoleConfig
}

// AccessControl checks whether a role may invoke a tool. Matching uses
// stdlib path.Match for glob patterns — no third-party glob library in
// the corpus offers Unix shell-glob semantics over plain strings, and
// the teacher's own filesystem glob tool already relies on path.Match
// for the same reason.
type AccessControl struct {
	logger *zap.Logger

	mu     sync.RWMutex
	config Config
}

// New creates an AccessControl with the given initial config.
func New(config Config, logger *zap.Logger) *AccessControl {
	if config.DefaultRole == "" {
		config.DefaultRole = "user"
	}
	return &AccessControl{config: config, logger: logger}
}

// Reload swaps in a new config, e.g. on a config-file change (config
// is layered via viper/fsnotify per the ambient stack).
func (a *AccessControl) Reload(config Config) {
	if config.DefaultRole == "" {
		config.DefaultRole = "user"
	}
	a.mu.Lock()
	a.config = config
	a.mu.Unlock()
}

// CheckPermission reports whether role may invoke toolName. Deny
// patterns take precedence over allow patterns. An unknown role falls
// back to the configured default role with a warning.
func (a *AccessControl) CheckPermission(role, toolName string) bool {
	a.mu.RLock()
	cfg := a.config
	a.mu.RUnlock()

	if !cfg.Enabled {
		return true
	}

	rc, ok := cfg.Roles[role]
	if !ok {
		a.logger.Warn("access control: unknown role, falling back to default",
			zap.String("role", role),
			zap.String("default_role", cfg.DefaultRole),
		)
		role = cfg.DefaultRole
		rc = cfg.Roles[role]
	}

	for _, pattern := range rc.Deny {
		if matches(pattern, toolName) {
			a.logger.Warn("access control: denied",
				zap.String("role", role),
				zap.String("tool", toolName),
				zap.String("matched_deny", pattern),
			)
			return false
		}
	}

	for _, pattern := range rc.Allow {
		if matches(pattern, toolName) {
			return true
		}
	}

	a.logger.Warn("access control: no allow rule matched",
		zap.String("role", role),
		zap.String("tool", toolName),
	)
	return false
}

// DenialMessage is the synthetic ToolResult text shown to the LLM for
// a denied invocation, matching the original's denial wording exactly.
func DenialMessage(role, toolName string) string {
	return fmt.Sprintf("Permission Denied: Role '%s' cannot use tool '%s'", role, toolName)
}

func matches(pattern, name string) bool {
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
