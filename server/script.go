package server

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Mode selects which template line shape a substitution pass rewrites.
type Mode int

const (
	// ModeSet rewrites variables the script already assigns, i.e. lines of
	// the exact form NAME='...'.
	ModeSet Mode = iota
	// ModeUnset rewrites commented-out placeholders, i.e. lines of the
	// exact form "# NAME=".
	ModeUnset
)

// Substitute rewrites every line of content matching a variable in vars for
// the given mode and returns the transformed text. Both modes produce an
// active assignment NAME='value'; the mode only decides which original line
// shape counts as a match. Blank values are skipped, as are variables with
// no matching line. Lines outside the matches come back byte for byte, and
// the line count never changes.
func Substitute(content string, vars map[string]string, mode Mode) string {
	lines := strings.Split(content, "\n")
	for name, value := range vars {
		if strings.TrimSpace(value) == "" || strings.ContainsAny(value, "\r\n") {
			continue
		}
		replacement := name + "='" + escapeSingleQuotes(value) + "'"
		for i, line := range lines {
			if matchesVariable(line, name, mode) {
				lines[i] = replacement
			}
		}
	}
	return strings.Join(lines, "\n")
}

// matchesVariable reports whether line is, in its entirety, the shape the
// mode rewrites for the named variable. Matching is anchored to the whole
// line, so a name that is a prefix of a longer name never cross-matches.
func matchesVariable(line, name string, mode Mode) bool {
	if mode == ModeUnset {
		return line == "# "+name+"="
	}
	return len(line) >= len(name)+3 &&
		strings.HasPrefix(line, name+"='") &&
		strings.HasSuffix(line, "'")
}

// escapeSingleQuotes closes the quoted literal, emits an escaped quote, and
// reopens it, so the value survives shell single-quote parsing intact.
func escapeSingleQuotes(value string) string {
	return strings.ReplaceAll(value, "'", `'\''`)
}

// ScriptService produces the personalized installation script.
type ScriptService struct {
	cfg    ScriptConfig
	logger *slog.Logger
}

// NewScriptService constructs the service from the script configuration.
func NewScriptService(cfg ScriptConfig, logger *slog.Logger) *ScriptService {
	return &ScriptService{cfg: cfg, logger: logger}
}

// Render loads the script template and substitutes deployment values and,
// when credentials are present, the per-user values. An unreadable template
// is the only fatal condition; absent credentials or configuration leave
// the corresponding lines untouched.
func (s *ScriptService) Render(creds *Credentials) ([]byte, error) {
	raw, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("read script template: %w", err)
	}

	setVars := map[string]string{
		"STRAP_ISSUES_URL": s.cfg.IssuesURL,
	}
	unsetVars := map[string]string{
		"CUSTOM_HOMEBREW_TAP": s.cfg.CustomHomebrewTap,
		"CUSTOM_BREW_COMMAND": s.cfg.CustomBrewCommand,
	}
	if creds != nil {
		unsetVars["STRAP_GIT_NAME"] = creds.Name
		unsetVars["STRAP_GIT_EMAIL"] = creds.Email
		unsetVars["STRAP_GITHUB_USER"] = creds.Username
		unsetVars["STRAP_GITHUB_TOKEN"] = creds.Token
	}

	content := Substitute(string(raw), setVars, ModeSet)
	content = Substitute(content, unsetVars, ModeUnset)
	return []byte(content), nil
}
