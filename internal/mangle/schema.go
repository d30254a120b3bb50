package mangle

import _ "embed"

// builtinSchema declares the base predicates the session layer emits and
// the derived diagnoses built on them. Projects can layer their own rules
// on top via the workspace schema file or AddRule.
//
//go:embed schema.mg
var builtinSchema string

// BuiltinSchema returns the embedded schema source, for surfaces that
// expose the predicate vocabulary to clients.
func BuiltinSchema() string { return builtinSchema }
