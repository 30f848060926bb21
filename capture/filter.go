package capture

import "strings"

// Mode selects which app names a Filter lets through, beyond the
// privacy blacklist that always applies first.
type Mode string

const (
	ModeNone      Mode = "none"
	ModeWhitelist Mode = "whitelist"
	ModeBlacklist Mode = "blacklist"
)

// privacyBlacklist is checked against the window title before any user
// rule, regardless of mode, and cannot be disabled.
var privacyBlacklist = []string{
	"password", "1password", "lastpass", "bitwarden", "keychain",
	"credential", "secret", "vault", "authenticator", "otp", "2fa",
	"login", "sign in", "signin", "bank", "incognito", "private",
}

// Filter decides whether a capture tick should proceed for a given
// foreground app, combining the always-on privacy blacklist with an
// optional user allow/deny list over process names.
type Filter struct {
	Mode    Mode
	AppList []string
}

// NewFilter returns a Filter for the given mode and app list, falling
// back to ModeNone for an unrecognized mode.
func NewFilter(mode Mode, appList []string) Filter {
	switch mode {
	case ModeWhitelist, ModeBlacklist:
	default:
		mode = ModeNone
	}
	return Filter{Mode: mode, AppList: appList}
}

// ShouldCapture reports whether a tick against the given foreground
// app and window title should proceed. The privacy blacklist is
// checked first and always wins; only then is the mode consulted.
func (f Filter) ShouldCapture(appName, windowTitle string) bool {
	if matchesPrivacyBlacklist(windowTitle) || matchesPrivacyBlacklist(appName) {
		return false
	}
	switch f.Mode {
	case ModeWhitelist:
		return containsApp(f.AppList, appName)
	case ModeBlacklist:
		return !containsApp(f.AppList, appName)
	default:
		return true
	}
}

func matchesPrivacyBlacklist(s string) bool {
	lower := strings.ToLower(s)
	for _, word := range privacyBlacklist {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func containsApp(list []string, appName string) bool {
	lower := strings.ToLower(appName)
	for _, entry := range list {
		if strings.Contains(lower, strings.ToLower(entry)) {
			return true
		}
	}
	return false
}
