package firewall

import (
	"slices"
	"sync/atomic"

	"grimm.is/warden/internal/logging"
	"grimm.is/warden/internal/metrics"
	"grimm.is/warden/internal/traffic"
)

// ruleSet is one immutable generation of rules.
type ruleSet struct {
	rules         []compiledRule
	defaultAction Action
	defects       []*RuleError
	generation    uint64
}

// Match describes a rule that matched a record.
type Match struct {
	Rule   string
	Action Action
}

// Engine matches records against an ordered rule set. The first enabled
// rule that matches wins. Replacing the rule set is a single atomic pointer
// swap; evaluations in flight keep the generation they started with.
type Engine struct {
	current atomic.Pointer[ruleSet]
	gen     atomic.Uint64
	logger  *logging.Logger
}

// NewEngine compiles rules and installs them with the given default action.
func NewEngine(rules []Rule, defaultAction Action, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.WithComponent("rules")
	}
	e := &Engine{logger: logger}
	e.Replace(rules, defaultAction)
	return e
}

// Replace installs a new rule set and default action. Unparseable address
// specifiers are logged and returned; the affected rules never match.
func (e *Engine) Replace(rules []Rule, defaultAction Action) []*RuleError {
	set := &ruleSet{
		rules:         make([]compiledRule, 0, len(rules)),
		defaultAction: defaultAction,
		generation:    e.gen.Add(1),
	}
	for _, r := range rules {
		c, defects := compileRule(r)
		set.rules = append(set.rules, c)
		set.defects = append(set.defects, defects...)
	}
	for _, d := range set.defects {
		e.logger.Warn("rule never matches", "rule", d.Rule, "field", d.Field, "value", d.Value, "error", d.Err)
	}

	e.current.Store(set)
	metrics.Get().SetRuleSet(len(set.rules), len(set.defects))
	e.logger.Debug("rule set installed", "generation", set.generation, "rules", len(set.rules), "default", defaultAction)
	return set.defects
}

// Update replaces the rules and keeps the current default action.
func (e *Engine) Update(rules []Rule) []*RuleError {
	return e.Replace(rules, e.DefaultAction())
}

// Evaluate returns the action of the first enabled rule matching rec.
func (e *Engine) Evaluate(rec traffic.Record) (Match, bool) {
	return e.current.Load().evaluate(rec)
}

// Decide evaluates rec and falls back to the default action of the same
// generation. The second result names what decided: "rule:<name>" or "default".
func (e *Engine) Decide(rec traffic.Record) (Action, string) {
	set := e.current.Load()
	if m, ok := set.evaluate(rec); ok {
		metrics.Get().RecordRuleMatch(m.Rule, m.Action.String())
		return m.Action, "rule:" + m.Rule
	}
	return set.defaultAction, "default"
}

func (s *ruleSet) evaluate(rec traffic.Record) (Match, bool) {
	for i := range s.rules {
		r := &s.rules[i]
		if !r.Enabled {
			continue
		}
		if r.matches(rec) {
			return Match{Rule: r.Name, Action: r.Action}, true
		}
	}
	return Match{}, false
}

// DefaultAction returns the action applied when no rule matches.
func (e *Engine) DefaultAction() Action {
	return e.current.Load().defaultAction
}

// Rules returns a copy of the active rules in order.
func (e *Engine) Rules() []Rule {
	set := e.current.Load()
	out := make([]Rule, len(set.rules))
	for i, r := range set.rules {
		out[i] = r.Rule
	}
	return out
}

// Defects returns the configuration defects of the active rule set.
func (e *Engine) Defects() []*RuleError {
	return slices.Clone(e.current.Load().defects)
}

// Generation increments on every Replace.
func (e *Engine) Generation() uint64 {
	return e.current.Load().generation
}
