package speedlayer

import (
	"fmt"
	"path/filepath"
	"regexp"
)

// RuleAction is what a matching rule produces.
type RuleAction string

const (
	RuleApprove RuleAction = "approve"
	RuleDeny    RuleAction = "deny"
)

// RuleSpec is the on-disk/config shape of a policy rule, compiled once
// at startup into a compiledRule.
type RuleSpec struct {
	// KindPattern is a glob matched against Command.Kind (e.g. "rm *",
	// "git *"). Empty matches any kind.
	KindPattern string

	// PathPattern is a glob matched against Command.TargetPath. Empty
	// matches any path.
	PathPattern string

	// ArgPattern, if set, is a regular expression matched against the
	// joined "key=value" argument pairs.
	ArgPattern string

	Action RuleAction

	// Priority orders evaluation; lower values evaluate first. Assigned
	// at load time so there is no per-request sort (§4.4).
	Priority int
}

type compiledRule struct {
	kindPattern string
	pathPattern string
	argRegexp   *regexp.Regexp
	action      RuleAction
	priority    int
}

// PolicyCache is Tier 2: a preloaded, precompiled rule set evaluated in
// stable priority order. Target P99 ≤ 5ms (§4.4).
type PolicyCache struct {
	rules []compiledRule // sorted ascending by priority at load time
}

// NewPolicyCache compiles specs once and sorts them by priority. Returns
// an error if any ArgPattern fails to compile (schema_invalid at
// startup, not at request time).
func NewPolicyCache(specs []RuleSpec) (*PolicyCache, error) {
	compiled := make([]compiledRule, 0, len(specs))
	for i, spec := range specs {
		cr := compiledRule{
			kindPattern: spec.KindPattern,
			pathPattern: spec.PathPattern,
			action:      spec.Action,
			priority:    spec.Priority,
		}
		if spec.ArgPattern != "" {
			re, err := regexp.Compile(spec.ArgPattern)
			if err != nil {
				return nil, fmt.Errorf("speedlayer: rule %d: compile arg_pattern: %w", i, err)
			}
			cr.argRegexp = re
		}
		compiled = append(compiled, cr)
	}

	// Stable sort by priority, preserving declaration order for ties —
	// assigned once here, never re-sorted per request.
	for i := 1; i < len(compiled); i++ {
		for j := i; j > 0 && compiled[j].priority < compiled[j-1].priority; j-- {
			compiled[j], compiled[j-1] = compiled[j-1], compiled[j]
		}
	}

	return &PolicyCache{rules: compiled}, nil
}

// Evaluate implements Tier: the first matching rule (in priority order)
// wins. No match means abstain.
func (p *PolicyCache) Evaluate(cmd Command) (Decision, error) {
	for _, r := range p.rules {
		if !globMatches(r.kindPattern, cmd.Kind) {
			continue
		}
		if !globMatches(r.pathPattern, cmd.TargetPath) {
			continue
		}
		if r.argRegexp != nil && !r.argRegexp.MatchString(joinArgs(cmd.Args)) {
			continue
		}
		return Decision{
			Verdict: Verdict(r.action),
			Reason:  fmt.Sprintf("policycache: rule priority=%d matched", r.priority),
		}, nil
	}
	return Decision{Verdict: VerdictAbstain, Reason: "policycache: no rule matched"}, nil
}

func globMatches(pattern, value string) bool {
	if pattern == "" {
		return true
	}
	matched, err := filepath.Match(pattern, value)
	return err == nil && matched
}

func joinArgs(args map[string]string) string {
	s := ""
	for k, v := range args {
		s += k + "=" + v + " "
	}
	return s
}
