// Package executor implements the Command Executor (C3): the predefined
// command registry, the TTL result cache, the gate→cache→pool execution
// flow, and the illustrative output parsers of spec.md §4.3.
//
// Grounded on the teacher's internal/extractor (regex-over-text parsing
// rules attached to a declarative table) and internal/pool (one struct
// per target, counters consulted by health checks).
package executor

import "time"

// Kind classifies a predefined command (§4.3).
type Kind string

const (
	KindSystemInfo Kind = "system_info"
	KindMetrics    Kind = "metrics"
	KindHardware   Kind = "hardware"
	KindNetwork    Kind = "network"
	KindProcess    Kind = "process"
)

// Parser turns raw stdout into a structured map. Parse failures must not
// flip the CommandResult's status (§4.3 step 5) — callers fold a parser
// error into Parsed["raw_output"] instead.
type Parser func(stdout string) (map[string]any, error)

// CommandSpec is one registry entry (§4.3).
type CommandSpec struct {
	Name    string
	Command string
	Kind    Kind
	Timeout time.Duration
	TTL     time.Duration // 0 = uncached
	Parser  Parser
}

// DefaultRegistry returns the predefined commands named across §4.3/§4.4.
func DefaultRegistry() []CommandSpec {
	return []CommandSpec{
		{Name: "uptime", Command: "uptime", Kind: KindSystemInfo, Timeout: 10 * time.Second, TTL: 5 * time.Second, Parser: ParseUptime},
		{Name: "hostname", Command: "hostname", Kind: KindSystemInfo, Timeout: 10 * time.Second, TTL: 60 * time.Second},
		{Name: "uname", Command: "uname -a", Kind: KindSystemInfo, Timeout: 10 * time.Second, TTL: 300 * time.Second},
		{Name: "lscpu", Command: "lscpu", Kind: KindHardware, Timeout: 10 * time.Second, TTL: 300 * time.Second, Parser: ParseLscpu},
		{Name: "loadavg", Command: "cat /proc/loadavg", Kind: KindMetrics, Timeout: 10 * time.Second, TTL: 0, Parser: ParseLoadavg},
		{Name: "proc_stat", Command: "cat /proc/stat", Kind: KindMetrics, Timeout: 10 * time.Second, TTL: 0, Parser: ParseProcStatCPU},
		{Name: "meminfo", Command: "cat /proc/meminfo", Kind: KindMetrics, Timeout: 10 * time.Second, TTL: 0, Parser: ParseMeminfo},
		{Name: "free", Command: "free -b", Kind: KindMetrics, Timeout: 10 * time.Second, TTL: 0, Parser: ParseFree},
		{Name: "df", Command: "df -B1", Kind: KindMetrics, Timeout: 15 * time.Second, TTL: 0, Parser: ParseDF},
		{Name: "lsblk", Command: "lsblk", Kind: KindHardware, Timeout: 10 * time.Second, TTL: 30 * time.Second},
		{Name: "diskstats", Command: "iostat -x 1 1 2>/dev/null || cat /proc/diskstats", Kind: KindMetrics, Timeout: 15 * time.Second, TTL: 0, Parser: ParseDiskstats},
		{Name: "netdev", Command: "cat /proc/net/dev", Kind: KindNetwork, Timeout: 10 * time.Second, TTL: 0, Parser: ParseNetDev},
		{Name: "ipaddr", Command: "ip addr show", Kind: KindNetwork, Timeout: 10 * time.Second, TTL: 5 * time.Second, Parser: ParseIPAddr},
		{Name: "ss", Command: "ss -s", Kind: KindNetwork, Timeout: 10 * time.Second, TTL: 5 * time.Second},
		{Name: "ps", Command: "ps aux", Kind: KindProcess, Timeout: 15 * time.Second, TTL: 0},
	}
}

// ByName indexes a registry slice for lookup.
func ByName(specs []CommandSpec) map[string]CommandSpec {
	m := make(map[string]CommandSpec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return m
}
