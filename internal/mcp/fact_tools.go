package mcp

import (
	"context"
	"fmt"
	"time"

	"statenerd-mcp-server/internal/mangle"
)

// QueryFactsTool runs a Datalog query over the fact buffer and store.
type QueryFactsTool struct {
	engine *mangle.Engine
}

func (t *QueryFactsTool) Name() string { return "state_query" }
func (t *QueryFactsTool) Description() string {
	return `Run a Mangle (Datalog) query over accumulated session facts.

Variables are uppercase; constants are quoted strings or numbers; end
the query with a period.

BASE PREDICATES (emitted by the tracker):
- session_event(Session, Event, Url, Ts)
- navigation_event(Session, Url, Ts), current_url(Session, Url)
- console_message(Session, Level, Text, Ts)
- console_correlation(Session, Type, Value)
- net_request(Session, ReqId, Method, Url, Ts)
- net_response(ReqId, Status, Latency, Duration)
- request_initiator(ReqId, Type, ParentRef)
- request_correlation(ReqId, Type, Value)
- state_transition(Session, Step, NavType, SnapshotId, Hash, Ts)
- layer_active(Session, Step, LayerType, Region)
- observation_linked(Session, Step, Eid, Kind, Text)
- actionable(Session, Step, Eid, Kind, Label)
- action_event(Session, Eid, Action, Outcome, Ts)

DERIVED (builtin rules):
- console_error, failed_request, slow_request, correlated_failure,
  failed_action, blocked_step, overlay_actionable

EXAMPLES:
- failed_request(Session, ReqId, Url, Status).
- layer_active("sess-1", Step, "modal", Region).
- action_event(Session, Eid, "click", "failed", Ts).

Returns: {query, count, results: [{Var: value}]}`
}
func (t *QueryFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Datalog query ending with a period",
			},
		},
		"required": []string{"query"},
	}
}
func (t *QueryFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := getStringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	results, err := t.engine.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"query":   query,
		"count":   len(results),
		"results": results,
	}, nil
}

// ReadFactsTool reads buffered facts for one predicate, optionally within
// a time window.
type ReadFactsTool struct {
	engine *mangle.Engine
}

func (t *ReadFactsTool) Name() string { return "state_facts" }
func (t *ReadFactsTool) Description() string {
	return `Read recent facts for one predicate, newest last.

Cheaper than state_query when you just want a predicate's recent
history. since_ms/until_ms bound the window by fact arrival time (unix
milliseconds); omit both for the whole buffer.

Returns: {predicate, count, facts: [{predicate, args, timestamp}]}`
}
func (t *ReadFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate name, e.g. state_transition",
			},
			"since_ms": map[string]interface{}{
				"type":        "number",
				"description": "Only facts recorded after this unix-millisecond time",
			},
			"until_ms": map[string]interface{}{
				"type":        "number",
				"description": "Only facts recorded before this unix-millisecond time",
			},
			"limit": map[string]interface{}{
				"type":        "number",
				"description": "Maximum facts to return, newest kept (default 50, max 500)",
			},
		},
		"required": []string{"predicate"},
	}
}
func (t *ReadFactsTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}

	var since, until time.Time
	if ms := getIntArg(args, "since_ms", 0); ms > 0 {
		since = time.UnixMilli(int64(ms))
	}
	if ms := getIntArg(args, "until_ms", 0); ms > 0 {
		until = time.UnixMilli(int64(ms))
	}

	var facts []mangle.Fact
	if since.IsZero() && until.IsZero() {
		facts = t.engine.FactsByPredicate(predicate)
	} else {
		facts = t.engine.QueryTemporal(predicate, since, until)
	}

	limit := clampInt(getIntArg(args, "limit", 50), 1, 500)
	if len(facts) > limit {
		facts = facts[len(facts)-limit:]
	}

	return map[string]interface{}{
		"predicate": predicate,
		"count":     len(facts),
		"facts":     facts,
	}, nil
}

// SubmitRuleTool merges a Datalog rule into the running program.
type SubmitRuleTool struct {
	engine *mangle.Engine
}

func (t *SubmitRuleTool) Name() string { return "state_rule" }
func (t *SubmitRuleTool) Description() string {
	return `Add a Datalog rule over the session fact schema, optionally
evaluating a predicate right away.

Rules persist for the server's lifetime and re-evaluate as new facts
arrive, so a submitted rule can drive later state_query and state_wait
calls.

EXAMPLE:
  Decl checkout_error(Session, Text, Ts).

  checkout_error(Session, Text, Ts) :-
      console_message(Session, "error", Text, Ts),
      current_url(Session, "https://shop.test/checkout").

Returns: {status: "added", facts?} (facts present when evaluate is set)`
}
func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule": map[string]interface{}{
				"type":        "string",
				"description": "Mangle source: Decl plus one or more rules",
			},
			"evaluate": map[string]interface{}{
				"type":        "string",
				"description": "Optional predicate to evaluate after adding the rule",
			},
		},
		"required": []string{"rule"},
	}
}
func (t *SubmitRuleTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	rule := getStringArg(args, "rule")
	if rule == "" {
		return nil, fmt.Errorf("rule is required")
	}

	if err := t.engine.AddRule(rule); err != nil {
		return nil, fmt.Errorf("add rule: %w", err)
	}

	out := map[string]interface{}{"status": "added"}
	if predicate := getStringArg(args, "evaluate"); predicate != "" {
		facts, err := t.engine.Evaluate(ctx, predicate)
		if err != nil {
			return nil, err
		}
		out["facts"] = facts
	}
	return out, nil
}

// AwaitPredicateTool blocks until a predicate holds matching facts.
type AwaitPredicateTool struct {
	engine *mangle.Engine
}

func (t *AwaitPredicateTool) Name() string { return "state_wait" }
func (t *AwaitPredicateTool) Description() string {
	return `Wait until a predicate holds facts, using engine watch
subscriptions instead of polling.

WHEN TO USE:
- After page_act, wait for a derived condition (failed_request,
  console_error) before deciding the next step
- Wait for a rule submitted via state_rule to fire

args, when given, must match the predicate's leading arguments; a
session id as the first arg scopes the wait to one session. Returns
immediately when the condition already holds.

Returns: {predicate, satisfied, waited_ms, facts}`
}
func (t *AwaitPredicateTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate to wait on, base or derived",
			},
			"args": map[string]interface{}{
				"type":        "array",
				"description": "Leading argument values the facts must match",
			},
			"timeout_ms": map[string]interface{}{
				"type":        "number",
				"description": "How long to wait (default 10000, max 120000)",
			},
		},
		"required": []string{"predicate"},
	}
}
func (t *AwaitPredicateTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		return nil, fmt.Errorf("predicate is required")
	}
	wantArgs := getSliceArg(args, "args")
	timeout := time.Duration(clampInt(getIntArg(args, "timeout_ms", 10000), 100, 120000)) * time.Millisecond

	started := time.Now()

	// Buffered base facts satisfy the wait without an evaluation pass.
	if len(wantArgs) > 0 && t.engine.MatchesAll([]mangle.Fact{{Predicate: predicate, Args: wantArgs}}) {
		return t.result(predicate, true, started, t.engine.FactsByPredicate(predicate)), nil
	}

	facts, err := t.engine.Evaluate(ctx, predicate)
	if err != nil {
		return nil, err
	}
	if matchFact(facts, wantArgs) {
		return t.result(predicate, true, started, facts), nil
	}

	ch := make(chan mangle.WatchEvent, 8)
	t.engine.Subscribe(predicate, ch)
	defer t.engine.Unsubscribe(predicate, ch)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev := <-ch:
			if matchFact(ev.Facts, wantArgs) {
				return t.result(predicate, true, started, ev.Facts), nil
			}
		case <-timer.C:
			return t.result(predicate, false, started, nil), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *AwaitPredicateTool) result(predicate string, satisfied bool, started time.Time, facts []mangle.Fact) map[string]interface{} {
	if facts == nil {
		facts = []mangle.Fact{}
	}
	return map[string]interface{}{
		"predicate": predicate,
		"satisfied": satisfied,
		"waited_ms": time.Since(started).Milliseconds(),
		"facts":     facts,
	}
}
