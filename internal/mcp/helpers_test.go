package mcp

import (
	"testing"
	"time"

	"statenerd-mcp-server/internal/mangle"
)

func TestMatchFact(t *testing.T) {
	facts := []mangle.Fact{
		{Predicate: "test", Args: []interface{}{"arg1", "arg2", 123}, Timestamp: time.Now()},
		{Predicate: "test", Args: []interface{}{"other", "values"}, Timestamp: time.Now()},
	}

	tests := []struct {
		name     string
		facts    []mangle.Fact
		wantArgs []interface{}
		expected bool
	}{
		{
			name:     "empty want args with facts",
			facts:    facts,
			wantArgs: nil,
			expected: true,
		},
		{
			name:     "empty want args with empty facts",
			facts:    nil,
			wantArgs: nil,
			expected: false,
		},
		{
			name:     "matching first arg",
			facts:    facts,
			wantArgs: []interface{}{"arg1"},
			expected: true,
		},
		{
			name:     "matching multiple args",
			facts:    facts,
			wantArgs: []interface{}{"arg1", "arg2"},
			expected: true,
		},
		{
			name:     "matching all args",
			facts:    facts,
			wantArgs: []interface{}{"arg1", "arg2", 123},
			expected: true,
		},
		{
			name:     "numeric args compare across types",
			facts:    facts,
			wantArgs: []interface{}{"arg1", "arg2", int64(123)},
			expected: true,
		},
		{
			name:     "non-matching args",
			facts:    facts,
			wantArgs: []interface{}{"nonexistent"},
			expected: false,
		},
		{
			name:     "want more args than fact has",
			facts:    facts,
			wantArgs: []interface{}{"arg1", "arg2", 123, "extra"},
			expected: false,
		},
		{
			name:     "matching other fact",
			facts:    facts,
			wantArgs: []interface{}{"other", "values"},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := matchFact(tt.facts, tt.wantArgs)
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestGetStringArg(t *testing.T) {
	tests := []struct {
		name     string
		args     map[string]interface{}
		key      string
		expected string
	}{
		{
			name:     "string value",
			args:     map[string]interface{}{"key": "value"},
			key:      "key",
			expected: "value",
		},
		{
			name:     "missing key",
			args:     map[string]interface{}{"other": "value"},
			key:      "key",
			expected: "",
		},
		{
			name:     "int value converted to string",
			args:     map[string]interface{}{"key": 123},
			key:      "key",
			expected: "123",
		},
		{
			name:     "nil map",
			args:     nil,
			key:      "key",
			expected: "",
		},
		{
			name:     "bool value converted to string",
			args:     map[string]interface{}{"key": true},
			key:      "key",
			expected: "true",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := getStringArg(tt.args, tt.key)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestGetIntArg(t *testing.T) {
	tests := []struct {
		name     string
		args     map[string]interface{}
		key      string
		fallback int
		expected int
	}{
		{
			name:     "int value",
			args:     map[string]interface{}{"key": 42},
			key:      "key",
			fallback: 0,
			expected: 42,
		},
		{
			name:     "int64 value",
			args:     map[string]interface{}{"key": int64(100)},
			key:      "key",
			fallback: 0,
			expected: 100,
		},
		{
			name:     "float64 value",
			args:     map[string]interface{}{"key": float64(3.14)},
			key:      "key",
			fallback: 0,
			expected: 3,
		},
		{
			name:     "missing key uses fallback",
			args:     map[string]interface{}{"other": 123},
			key:      "key",
			fallback: 99,
			expected: 99,
		},
		{
			name:     "string value uses fallback",
			args:     map[string]interface{}{"key": "not a number"},
			key:      "key",
			fallback: 50,
			expected: 50,
		},
		{
			name:     "nil map uses fallback",
			args:     nil,
			key:      "key",
			fallback: 25,
			expected: 25,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := getIntArg(tt.args, tt.key, tt.fallback)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}

func TestGetBoolArg(t *testing.T) {
	tests := []struct {
		name     string
		args     map[string]interface{}
		key      string
		fallback bool
		expected bool
	}{
		{
			name:     "true value",
			args:     map[string]interface{}{"key": true},
			key:      "key",
			fallback: false,
			expected: true,
		},
		{
			name:     "false value",
			args:     map[string]interface{}{"key": false},
			key:      "key",
			fallback: true,
			expected: false,
		},
		{
			name:     "missing key uses fallback",
			args:     map[string]interface{}{"other": true},
			key:      "key",
			fallback: true,
			expected: true,
		},
		{
			name:     "non-bool value uses fallback",
			args:     map[string]interface{}{"key": "true"},
			key:      "key",
			fallback: false,
			expected: false,
		},
		{
			name:     "nil map uses fallback",
			args:     nil,
			key:      "key",
			fallback: true,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := getBoolArg(tt.args, tt.key, tt.fallback)
			if result != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestGetSliceArg(t *testing.T) {
	tests := []struct {
		name     string
		args     map[string]interface{}
		key      string
		expected int
	}{
		{
			name:     "array value",
			args:     map[string]interface{}{"key": []interface{}{"a", "b"}},
			key:      "key",
			expected: 2,
		},
		{
			name:     "empty array",
			args:     map[string]interface{}{"key": []interface{}{}},
			key:      "key",
			expected: 0,
		},
		{
			name:     "missing key",
			args:     map[string]interface{}{},
			key:      "key",
			expected: 0,
		},
		{
			name:     "non-array value",
			args:     map[string]interface{}{"key": "not an array"},
			key:      "key",
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := getSliceArg(tt.args, tt.key)
			if len(result) != tt.expected {
				t.Errorf("expected %d elements, got %d", tt.expected, len(result))
			}
		})
	}
}

func TestClampInt(t *testing.T) {
	tests := []struct {
		name      string
		v, lo, hi int
		expected  int
	}{
		{"within range", 5, 1, 10, 5},
		{"below low", -3, 1, 10, 1},
		{"above high", 99, 1, 10, 10},
		{"at low", 1, 1, 10, 1},
		{"at high", 10, 1, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := clampInt(tt.v, tt.lo, tt.hi)
			if result != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, result)
			}
		})
	}
}
