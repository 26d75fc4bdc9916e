package manifest

import "regexp"

// Host describes the current platform for rule evaluation.
type Host struct {
	OSName  string // "windows", "osx", "linux"
	OSVersion string
	Arch    string // "x86", "x86_64" (Mojang's spelling)
}

// OSName maps runtime.GOOS to Mojang's os.name spelling.
func OSName(goos string) string {
	switch goos {
	case "windows":
		return "windows"
	case "darwin":
		return "osx"
	case "linux":
		return "linux"
	default:
		return goos
	}
}

// Arch maps runtime.GOARCH to Mojang's os.arch spelling.
func Arch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x86_64"
	case "386":
		return "x86"
	case "arm64":
		return "arm64"
	default:
		return goarch
	}
}

// matches reports whether a single rule's os/features clauses match host.
// Every specified clause must match; unspecified clauses are wildcards.
func matches(r Rule, host Host, features map[string]bool) bool {
	if r.OS.Name != "" && r.OS.Name != host.OSName {
		return false
	}
	if r.OS.Arch != "" && r.OS.Arch != host.Arch {
		return false
	}
	if r.OS.Version != "" {
		re, err := regexp.Compile(r.OS.Version)
		if err != nil || !re.MatchString(host.OSVersion) {
			return false
		}
	}
	for feature, want := range r.Features {
		if features[feature] != want {
			return false
		}
	}
	return true
}

// Evaluate applies the rule-filter algebra from the specification's
// Design Notes: a pure function of (rules, host, features). An empty
// rule list always allows. Otherwise rules are evaluated in order and
// the last matching rule's polarity wins; no match leaves the entry
// disallowed (the conservative default Mojang's own launcher uses).
func Evaluate(rules []Rule, host Host, features map[string]bool) bool {
	if len(rules) == 0 {
		return true
	}
	allowed := false
	for _, r := range rules {
		if matches(r, host, features) {
			allowed = r.Action == "allow"
		}
	}
	return allowed
}
