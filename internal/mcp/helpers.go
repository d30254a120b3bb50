package mcp

import (
	"fmt"

	"statenerd-mcp-server/internal/mangle"
)

// matchFact reports whether any fact's leading args match wantArgs. An
// empty wantArgs matches whenever facts exist at all.
func matchFact(facts []mangle.Fact, wantArgs []interface{}) bool {
	if len(wantArgs) == 0 {
		return len(facts) > 0
	}
	for _, f := range facts {
		if len(f.Args) < len(wantArgs) {
			continue
		}
		ok := true
		for i := range wantArgs {
			if fmt.Sprintf("%v", f.Args[i]) != fmt.Sprintf("%v", wantArgs[i]) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func getStringArg(args map[string]interface{}, key string) string {
	val, ok := args[key]
	if !ok {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func getBoolArg(args map[string]interface{}, key string, fallback bool) bool {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return fallback
}

// getSliceArg returns a JSON array argument as a slice, or nil when the
// key is absent or not an array.
func getSliceArg(args map[string]interface{}, key string) []interface{} {
	val, ok := args[key]
	if !ok {
		return nil
	}
	if s, ok := val.([]interface{}); ok {
		return s
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
