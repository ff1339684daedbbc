// Package security implements the Security Gate (C2): command
// whitelist+veto+syntax checks and per-source-ip connection gating
// (whitelist, rate limiting, brute-force detection). Every check emits a
// SecurityEvent (§4.2).
//
// The command-text checks are regexp driven, grounded on the teacher's
// internal/threshold.Parse — a small regex-validated mini-grammar with a
// closed set of valid tokens — adapted here from "parse a performance
// assertion" to "classify a shell command".
package security

import (
	"regexp"
	"strings"
)

// whitelistStems is the closed set of safe command stems (§4.2).
var whitelistStems = map[string]bool{
	"uptime":   true,
	"hostname": true,
	"uname":    true,
	"lscpu":    true,
	"lsmem":    true,
	"lsblk":    true,
	"free":     true,
	"df":       true,
	"ps":       true,
	"ss":       true,
	"iostat":   true,
	"vmstat":   true,
}

// whitelistTwoWord covers commands whose stem is the first two tokens,
// e.g. "ip addr" / "ip route".
var whitelistTwoWord = map[string]bool{
	"ip addr":  true,
	"ip route": true,
}

var vetoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+-rf`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bdd\b.*\bof=`),
	regexp.MustCompile(`\bshutdown\b`),
	regexp.MustCompile(`\breboot\b`),
	regexp.MustCompile(`chmod\s+777`),
	regexp.MustCompile(`iptables\s+-F`),
	regexp.MustCompile(`wget\b.*\|\s*sh`),
	regexp.MustCompile(`curl\b.*\|\s*sh`),
	regexp.MustCompile("`"),
	regexp.MustCompile(`\$\(`),
	regexp.MustCompile(`>\s*/etc/`),
}

// adhocSyntaxVeto rejects separators and substitution forms outright for
// operator-submitted ad-hoc commands (§4.2's "Syntax checks"). Predefined
// commands are system-authored constants in C3's registry — e.g. the disk
// collector's `iostat -x 1 1 2>/dev/null || cat /proc/diskstats` — and are
// exempt from this specific check (they are not attacker-controlled input)
// but still run through the whitelist-stem and destructive-veto checks
// below, per-segment, as defense in depth.
var adhocSyntaxVeto = []string{";", "&&", "||", "`", "$("}

var segmentSplit = regexp.MustCompile(`;|&&|\|\|`)

// Decision is the outcome of checking one command string.
type Decision struct {
	Allowed bool
	Reason  string
}

// CheckCommand applies whitelist + veto + syntax checks to command
// (§4.2). trusted distinguishes a predefined registry command (true) from
// an operator-submitted ad-hoc one (false); only the latter is rejected
// outright for using a shell separator. A command is rejected iff it
// fails the whitelist-stem test or matches a veto pattern — the
// equivalence tested by property 2 in spec.md §8.
func CheckCommand(command string, trusted bool) Decision {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return Decision{Allowed: false, Reason: "empty command"}
	}

	if !trusted {
		for _, bad := range adhocSyntaxVeto {
			if strings.Contains(trimmed, bad) {
				return Decision{Allowed: false, Reason: "disallowed shell syntax: " + bad}
			}
		}
	}

	for _, pat := range vetoPatterns {
		if pat.MatchString(trimmed) {
			return Decision{Allowed: false, Reason: "matches veto pattern: " + pat.String()}
		}
	}

	segments := segmentSplit.Split(trimmed, -1)
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if !whitelisted(seg) {
			return Decision{Allowed: false, Reason: "command stem not in whitelist: " + seg}
		}
	}

	return Decision{Allowed: true}
}

func whitelisted(command string) bool {
	// Strip a trailing redirect clause (e.g. "iostat -x 1 1 2>/dev/null")
	// before tokenizing the stem; only the command side of a redirect is
	// stem-checked, the target is covered by the /etc/ veto pattern above.
	if idx := strings.IndexAny(command, ">"); idx != -1 {
		command = command[:idx]
		if idx > 0 && (command[len(command)-1] == '2' || command[len(command)-1] == '1') {
			command = command[:len(command)-1]
		}
	}
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return false
	}

	if len(fields) >= 2 {
		twoWord := fields[0] + " " + fields[1]
		if whitelistTwoWord[twoWord] {
			return true
		}
	}

	stem := fields[0]
	if stem == "cat" {
		return catPathAllowed(fields)
	}

	return whitelistStems[stem]
}

// catPathAllowed restricts `cat` to paths under /proc/ or /sys/ (§4.2).
func catPathAllowed(fields []string) bool {
	if len(fields) < 2 {
		return false
	}
	for _, f := range fields[1:] {
		if !strings.HasPrefix(f, "/proc/") && !strings.HasPrefix(f, "/sys/") {
			return false
		}
	}
	return true
}
