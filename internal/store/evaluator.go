package store

import (
	"sync"

	"github.com/gobwas/glob"

	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

// compiledRule holds a PolicyRule's three wildcard patterns compiled
// with gobwas/glob. Patterns are compiled the first time a rule is
// evaluated and cached by ruleCompiler, per spec §9's guidance to avoid
// per-call regex compilation. "*" alone matches anything; a pattern
// with an embedded "*" is compiled with gobwas/glob's default wildcard
// semantics.
type compiledRule struct {
	rule      models.PolicyRule
	principal glob.Glob
	resource  glob.Glob
	action    glob.Glob
}

// ruleCompiler caches compiled rules by pattern so repeated policy
// evaluation against the same rule set doesn't recompile on every call.
type ruleCompiler struct {
	mu    sync.Mutex
	cache map[string]glob.Glob
}

func newRuleCompiler() *ruleCompiler {
	return &ruleCompiler{cache: make(map[string]glob.Glob)}
}

func (c *ruleCompiler) compile(pattern string) glob.Glob {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.cache[pattern]; ok {
		return g
	}
	g := glob.MustCompile(pattern)
	c.cache[pattern] = g
	return g
}

func (c *ruleCompiler) compileRule(r models.PolicyRule) compiledRule {
	return compiledRule{
		rule:      r,
		principal: c.compile(r.PrincipalPattern),
		resource:  c.compile(r.ResourcePattern),
		action:    c.compile(r.ActionPattern),
	}
}

// evaluateLocal walks active policies in ascending precedence and
// returns the decision for the first rule in the first policy whose
// principal/resource/action patterns all match. Absence of a match is
// a safe deny (spec §4.2, §3 invariant "default policy decision is
// deny").
func evaluateLocal(compiler *ruleCompiler, policies []models.PolicyRecord, principal, resource, action string) *models.PolicyDecision {
	for _, policy := range policies {
		if !policy.Active {
			continue
		}
		for _, rule := range policy.Rules {
			cr := compiler.compileRule(rule)
			if cr.principal.Match(principal) && cr.resource.Match(resource) && cr.action.Match(action) {
				return &models.PolicyDecision{
					Allow:         rule.Effect == models.EffectAllow,
					MaskingRules:  rule.MaskingRules,
					Reason:        "matched policy " + policy.Name,
					MatchedPolicy: policy.Name,
				}
			}
		}
	}
	return &models.PolicyDecision{
		Allow:        false,
		MaskingRules: []string{},
		Reason:       "no matching policy rule",
	}
}
