// Package mangle wraps the Mangle deductive database with the fact
// lifecycle of this server: page sessions emit normalized events, rules
// derive diagnoses over them, and tools query both.
package mangle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"statenerd-mcp-server/internal/config"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	"github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
	"go.uber.org/zap"
)

// Fact is one normalized event emitted by the session layer.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult is one binding of variables to values from a query.
type QueryResult map[string]interface{}

// Engine owns the Mangle program, its fact store, and a bounded temporal
// buffer for time-window queries the Datalog layer cannot express.
type Engine struct {
	cfg config.MangleConfig
	log *zap.Logger

	mu           sync.RWMutex
	schemaLoaded bool
	programInfo  *analysis.ProgramInfo
	store        factstore.FactStore

	// Temporal ring buffer plus a per-predicate index over it.
	facts []Fact
	index map[string][]int

	subMu         sync.RWMutex
	subscriptions map[string][]chan WatchEvent
}

// WatchEvent is delivered when a watched predicate holds facts after an
// evaluation pass.
type WatchEvent struct {
	Predicate string    `json:"predicate"`
	Facts     []Fact    `json:"facts"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEngine builds an engine. When enabled, the embedded schema loads
// first (unless disabled) and a project schema from cfg.SchemaPath merges
// on top; a missing project schema file is not an error.
func NewEngine(cfg config.MangleConfig, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		cfg:           cfg,
		log:           log,
		facts:         make([]Fact, 0, cfg.FactBufferLimit),
		index:         make(map[string][]int),
		store:         factstore.NewSimpleInMemoryStore(),
		subscriptions: make(map[string][]chan WatchEvent),
	}

	if !cfg.Enable {
		return e, nil
	}

	if !cfg.DisableBuiltin {
		if err := e.loadSource([]byte(builtinSchema)); err != nil {
			return nil, fmt.Errorf("builtin schema: %w", err)
		}
	}
	if cfg.SchemaPath != "" {
		if err := e.LoadSchema(cfg.SchemaPath); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				e.log.Debug("no project schema", zap.String("path", cfg.SchemaPath))
			} else {
				return nil, err
			}
		}
	}

	return e, nil
}

// LoadSchema parses a Mangle source file and merges it into the program.
func (e *Engine) LoadSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if err := e.loadSource(data); err != nil {
		return fmt.Errorf("schema %s: %w", path, err)
	}
	e.log.Info("schema loaded", zap.String("path", path))
	return nil
}

// AddRule merges one rule source string into the running program, for
// runtime assertions submitted through the query tool.
func (e *Engine) AddRule(ruleSource string) error {
	if !e.cfg.Enable {
		return nil
	}
	return e.loadSource([]byte(ruleSource))
}

// loadSource parses, analyzes, and merges a Mangle source unit. Existing
// declarations are the analysis context, so later units can build rules on
// predicates declared earlier.
func (e *Engine) loadSource(data []byte) error {
	sourceUnit, err := parse.Unit(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existingDecls := make(map[ast.PredicateSym]ast.Decl)
	if e.programInfo != nil {
		for k, v := range e.programInfo.Decls {
			if v != nil {
				existingDecls[k] = *v
			}
		}
	}

	info, err := analysis.AnalyzeOneUnit(sourceUnit, existingDecls)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	if e.programInfo == nil {
		e.programInfo = info
	} else {
		for k, v := range info.Decls {
			e.programInfo.Decls[k] = v
		}
		e.programInfo.Rules = append(e.programInfo.Rules, info.Rules...)
		e.programInfo.InitialFacts = append(e.programInfo.InitialFacts, info.InitialFacts...)
		for k := range info.EdbPredicates {
			e.programInfo.EdbPredicates[k] = struct{}{}
		}
		for k := range info.IdbPredicates {
			e.programInfo.IdbPredicates[k] = struct{}{}
		}
	}
	e.schemaLoaded = true
	return nil
}

// AddFacts appends facts to the temporal buffer and the Mangle store, then
// runs an evaluation pass so derived predicates stay current. The buffer is
// a ring: when full, the oldest facts fall off and the index rebuilds.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.cfg.Enable {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	baseIdx := len(e.facts)
	e.facts = append(e.facts, facts...)
	if e.cfg.FactBufferLimit > 0 && len(e.facts) > e.cfg.FactBufferLimit {
		trimCount := len(e.facts) - e.cfg.FactBufferLimit
		e.facts = e.facts[trimCount:]
		e.rebuildIndex()
	} else {
		for i, f := range facts {
			idx := baseIdx + i
			if idx >= 0 && idx < len(e.facts) {
				e.index[f.Predicate] = append(e.index[f.Predicate], idx)
			}
		}
	}

	for _, f := range facts {
		atom, err := e.factToAtom(f)
		if err != nil {
			e.log.Debug("skipping malformed fact",
				zap.String("predicate", f.Predicate), zap.Error(err))
			continue
		}
		e.store.Add(atom)
	}

	if e.schemaLoaded && e.programInfo != nil {
		if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
			return fmt.Errorf("eval program after fact insertion: %w", err)
		}
		e.checkAndNotifyWatchers()
	}

	return nil
}

// checkAndNotifyWatchers queries each watched predicate and pushes its
// current facts to subscribers. Only declared predicates can be watched;
// the declaration supplies the arity the store lookup needs.
func (e *Engine) checkAndNotifyWatchers() {
	watched := e.WatchPredicates()
	if len(watched) == 0 {
		return
	}

	for _, predicate := range watched {
		arity := e.lookupArity(predicate)
		if arity < 0 {
			continue
		}

		var derived []Fact
		_ = e.store.GetFacts(e.openAtom(predicate, arity), func(atom ast.Atom) error {
			fact, err := e.atomToFact(atom)
			if err == nil {
				derived = append(derived, fact)
			}
			return nil
		})

		if len(derived) > 0 {
			e.notifySubscribers(predicate, derived)
		}
	}
}

// lookupArity resolves a predicate's arity from the loaded declarations,
// or -1 when unknown.
func (e *Engine) lookupArity(predicate string) int {
	if e.programInfo == nil {
		return -1
	}
	for sym := range e.programInfo.Decls {
		if sym.Symbol == predicate {
			return sym.Arity
		}
	}
	return -1
}

// openAtom builds an all-variables atom, matching every stored fact of the
// predicate.
func (e *Engine) openAtom(predicate string, arity int) ast.Atom {
	args := make([]ast.BaseTerm, arity)
	for i := 0; i < arity; i++ {
		args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
	}
	return ast.Atom{
		Predicate: ast.PredicateSym{Symbol: predicate, Arity: arity},
		Args:      args,
	}
}

// Subscribe registers a channel for notifications when a predicate holds
// facts after evaluation. Delivery is non-blocking: a full channel skips.
func (e *Engine) Subscribe(predicate string, ch chan WatchEvent) string {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	e.subscriptions[predicate] = append(e.subscriptions[predicate], ch)
	return fmt.Sprintf("%s:%p", predicate, ch)
}

// Unsubscribe removes a channel from a predicate's subscriber list.
func (e *Engine) Unsubscribe(predicate string, ch chan WatchEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()

	channels := e.subscriptions[predicate]
	for i, c := range channels {
		if c == ch {
			e.subscriptions[predicate] = append(channels[:i], channels[i+1:]...)
			break
		}
	}
}

func (e *Engine) notifySubscribers(predicate string, facts []Fact) {
	e.subMu.RLock()
	channels := e.subscriptions[predicate]
	e.subMu.RUnlock()

	if len(channels) == 0 || len(facts) == 0 {
		return
	}

	event := WatchEvent{
		Predicate: predicate,
		Facts:     facts,
		Timestamp: time.Now(),
	}
	for _, ch := range channels {
		select {
		case ch <- event:
		default:
		}
	}
}

// WatchPredicates lists predicates with active subscriptions.
func (e *Engine) WatchPredicates() []string {
	e.subMu.RLock()
	defer e.subMu.RUnlock()

	predicates := make([]string, 0, len(e.subscriptions))
	for p, chs := range e.subscriptions {
		if len(chs) > 0 {
			predicates = append(predicates, p)
		}
	}
	return predicates
}

// Query runs a Mangle query and returns the satisfying variable bindings.
// Falls back to a direct buffer scan when the store yields nothing, which
// covers facts whose arity never matched a declaration.
func (e *Engine) Query(ctx context.Context, queryStr string) ([]QueryResult, error) {
	if !e.cfg.Enable || !e.schemaLoaded {
		return nil, fmt.Errorf("engine not ready")
	}

	sourceUnit, err := parse.Unit(bytes.NewReader([]byte(queryStr)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(sourceUnit.Clauses) == 0 {
		return nil, fmt.Errorf("no query found")
	}
	queryAtom := sourceUnit.Clauses[0].Head

	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]QueryResult, 0)
	err = e.store.GetFacts(queryAtom, func(atom ast.Atom) error {
		result := make(QueryResult)
		for i, arg := range queryAtom.Args {
			if i >= len(atom.Args) {
				break
			}
			if varArg, ok := arg.(ast.Variable); ok {
				result[varArg.Symbol] = e.convertConstant(atom.Args[i])
			}
		}
		results = append(results, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}

	if len(results) == 0 {
		results = append(results, e.queryBufferDirect(queryAtom.Predicate.Symbol, queryAtom.Args)...)
	}
	return results, nil
}

// queryBufferDirect matches a predicate and argument pattern against the
// temporal buffer.
func (e *Engine) queryBufferDirect(predicate string, queryArgs []ast.BaseTerm) []QueryResult {
	results := make([]QueryResult, 0)

	indices, exists := e.index[predicate]
	if !exists {
		return results
	}

	for _, idx := range indices {
		if idx < 0 || idx >= len(e.facts) {
			continue
		}
		f := e.facts[idx]
		if len(queryArgs) > 0 && len(f.Args) < len(queryArgs) {
			continue
		}

		result := make(QueryResult)
		matches := true
		for i, qArg := range queryArgs {
			if i >= len(f.Args) {
				break
			}
			if varArg, ok := qArg.(ast.Variable); ok {
				result[varArg.Symbol] = f.Args[i]
			} else if constArg, ok := qArg.(ast.Constant); ok {
				factVal := fmt.Sprintf("%v", f.Args[i])
				queryVal := e.convertConstant(constArg)
				if factVal != fmt.Sprintf("%v", queryVal) {
					matches = false
					break
				}
			}
		}
		if matches {
			results = append(results, result)
		}
	}
	return results
}

// Evaluate runs a full evaluation pass and returns the facts held for one
// predicate, base or derived.
func (e *Engine) Evaluate(ctx context.Context, predicate string) ([]Fact, error) {
	if !e.cfg.Enable || !e.schemaLoaded {
		return nil, fmt.Errorf("engine not ready")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := engine.EvalProgram(e.programInfo, e.store); err != nil {
		return nil, fmt.Errorf("eval program: %w", err)
	}

	arity := e.lookupArity(predicate)
	if arity < 0 {
		return []Fact{}, nil
	}

	facts := make([]Fact, 0)
	err := e.store.GetFacts(e.openAtom(predicate, arity), func(atom ast.Atom) error {
		fact, err := e.atomToFact(atom)
		if err != nil {
			return nil
		}
		facts = append(facts, fact)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return facts, nil
}

// QueryTemporal returns buffered facts for a predicate within a time
// window. Zero bounds are open.
func (e *Engine) QueryTemporal(predicate string, after, before time.Time) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]Fact, 0)
	indices, exists := e.index[predicate]
	if !exists {
		return results
	}

	for _, idx := range indices {
		if idx < 0 || idx >= len(e.facts) {
			continue
		}
		f := e.facts[idx]
		if (after.IsZero() || f.Timestamp.After(after)) &&
			(before.IsZero() || f.Timestamp.Before(before)) {
			results = append(results, f)
		}
	}
	return results
}

// FactsByPredicate returns buffered facts for one predicate via the index.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	indices, exists := e.index[predicate]
	if !exists {
		return []Fact{}
	}

	results := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		if idx >= 0 && idx < len(e.facts) {
			results = append(results, e.facts[idx])
		}
	}
	return results
}

// Facts returns a copy of the buffered facts.
func (e *Engine) Facts() []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Fact, len(e.facts))
	copy(out, e.facts)
	return out
}

// MatchesAll reports whether every condition has at least one buffered
// fact whose leading args match.
func (e *Engine) MatchesAll(conds []Fact) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, cond := range conds {
		indices, exists := e.index[cond.Predicate]
		if !exists {
			return false
		}

		found := false
		for _, idx := range indices {
			if idx < 0 || idx >= len(e.facts) {
				continue
			}
			f := e.facts[idx]

			if len(cond.Args) == 0 {
				found = true
				break
			}
			if len(f.Args) < len(cond.Args) {
				continue
			}

			ok := true
			for i := range cond.Args {
				if fmt.Sprintf("%v", f.Args[i]) != fmt.Sprintf("%v", cond.Args[i]) {
					ok = false
					break
				}
			}
			if ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Ready reports whether the engine can serve queries.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schemaLoaded || !e.cfg.Enable
}

func (e *Engine) factToAtom(f Fact) (ast.Atom, error) {
	predSym := ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)}

	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = e.toConstant(arg)
	}
	return ast.Atom{Predicate: predSym, Args: args}, nil
}

func (e *Engine) atomToFact(atom ast.Atom) (Fact, error) {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = e.convertConstant(arg)
	}
	return Fact{
		Predicate: atom.Predicate.Symbol,
		Args:      args,
		Timestamp: time.Now(),
	}, nil
}

func (e *Engine) toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func (e *Engine) convertConstant(c ast.BaseTerm) interface{} {
	if c == nil {
		return nil
	}
	switch term := c.(type) {
	case ast.Constant:
		if term.Type == ast.StringType {
			val, _ := term.StringValue()
			return val
		} else if term.Type == ast.NumberType {
			val, _ := term.NumberValue()
			return val
		} else if term.Type == ast.Float64Type {
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	default:
		return fmt.Sprintf("%v", c)
	}
}

func (e *Engine) rebuildIndex() {
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
	}
}
