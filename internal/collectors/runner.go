package collectors

import (
	"context"

	"github.com/cwatcher/cwatcher/internal/executor"
	"github.com/cwatcher/cwatcher/internal/sshpool"
)

// Runner is the subset of *executor.Executor each collector depends on,
// narrowed so tests can substitute a scripted fake (grounded on the
// teacher's runner.Requester interface seam in internal/runner).
type Runner interface {
	Execute(ctx context.Context, cfg sshpool.AuthConfig, targetKey string, spec executor.CommandSpec, sourceIP, user string, useCache, trusted bool) executor.CommandResult
}

// CallerContext carries the identity fields every C3 call needs for the
// Security Gate's event log, plus the registry used to look up named specs.
type CallerContext struct {
	TargetKey string
	SourceIP  string
	User      string
	Registry  map[string]executor.CommandSpec
}

// runNamed looks up name in cc.Registry and runs it as a trusted predefined
// command (§4.3 — collector command sets are always predefined, never
// ad-hoc).
func runNamed(ctx context.Context, r Runner, cfg sshpool.AuthConfig, cc CallerContext, name string) executor.CommandResult {
	spec, ok := cc.Registry[name]
	if !ok {
		return executor.CommandResult{Status: executor.StatusFailed, Error: "unknown predefined command: " + name}
	}
	return r.Execute(ctx, cfg, cc.TargetKey, spec, cc.SourceIP, cc.User, true, true)
}

// runParallel runs each named command concurrently and returns their
// results keyed by name, the way §4.4 requires "issuing its command set in
// parallel".
func runParallel(ctx context.Context, r Runner, cfg sshpool.AuthConfig, cc CallerContext, names ...string) map[string]executor.CommandResult {
	type pair struct {
		name string
		res  executor.CommandResult
	}
	ch := make(chan pair, len(names))
	for _, name := range names {
		name := name
		go func() {
			ch <- pair{name: name, res: runNamed(ctx, r, cfg, cc, name)}
		}()
	}
	out := make(map[string]executor.CommandResult, len(names))
	for range names {
		p := <-ch
		out[p.name] = p.res
	}
	return out
}
