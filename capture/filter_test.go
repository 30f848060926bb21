package capture

import "testing"

func TestFilterBlocksPrivacyBlacklistRegardlessOfMode(t *testing.T) {
	f := NewFilter(ModeNone, nil)
	if f.ShouldCapture("chrome", "1Password - Vault") {
		t.Fatal("expected privacy blacklist to block capture regardless of mode")
	}
	if f.ShouldCapture("Terminal", "ssh into prod - login required") {
		t.Fatal("expected window title containing 'login' to be blocked")
	}
}

func TestFilterNoneAllowsEverythingOutsideBlacklist(t *testing.T) {
	f := NewFilter(ModeNone, nil)
	if !f.ShouldCapture("firefox", "some article") {
		t.Fatal("expected mode none to allow unrelated apps")
	}
}

func TestFilterWhitelistOnlyAllowsListedApps(t *testing.T) {
	f := NewFilter(ModeWhitelist, []string{"Code", "Terminal"})
	if !f.ShouldCapture("Visual Studio Code", "main.go") {
		t.Fatal("expected whitelisted app to be allowed")
	}
	if f.ShouldCapture("Slack", "general") {
		t.Fatal("expected non-whitelisted app to be blocked")
	}
}

func TestFilterBlacklistBlocksListedApps(t *testing.T) {
	f := NewFilter(ModeBlacklist, []string{"Slack", "Messages"})
	if f.ShouldCapture("Slack", "general") {
		t.Fatal("expected blacklisted app to be blocked")
	}
	if !f.ShouldCapture("Visual Studio Code", "main.go") {
		t.Fatal("expected non-blacklisted app to be allowed")
	}
}

func TestFilterUnrecognizedModeFallsBackToNone(t *testing.T) {
	f := NewFilter(Mode("bogus"), []string{"Slack"})
	if f.Mode != ModeNone {
		t.Fatalf("expected unrecognized mode to fall back to none, got %s", f.Mode)
	}
	if !f.ShouldCapture("Slack", "general") {
		t.Fatal("expected fallback mode none to allow capture")
	}
}
