package env

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultFuncs returns the built-in substitution functions every Env
// registers: and, or, not, eq, if-then-else, match, is-sandbox-enabled,
// is-tool.
func DefaultFuncs() map[string]Func {
	return map[string]Func{
		"and":                fnAnd,
		"or":                 fnOr,
		"not":                fnNot,
		"eq":                 fnEq,
		"if-then-else":       fnIfThenElse,
		"match":              fnMatch,
		"is-sandbox-enabled": fnIsSandboxEnabled,
		"is-tool":            fnIsTool,
	}
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false":
		return false
	default:
		return true
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func fnAnd(_ CallContext, args []string) (string, error) {
	for _, a := range args {
		if !truthy(a) {
			return boolString(false), nil
		}
	}
	return boolString(true), nil
}

func fnOr(_ CallContext, args []string) (string, error) {
	for _, a := range args {
		if truthy(a) {
			return boolString(true), nil
		}
	}
	return boolString(false), nil
}

func fnNot(_ CallContext, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("not: expected 1 argument, got %d", len(args))
	}
	return boolString(!truthy(args[0])), nil
}

func fnEq(_ CallContext, args []string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("eq: expected 2 arguments, got %d", len(args))
	}
	return boolString(args[0] == args[1]), nil
}

func fnIfThenElse(_ CallContext, args []string) (string, error) {
	if len(args) != 3 {
		return "", fmt.Errorf("if-then-else: expected 3 arguments, got %d", len(args))
	}
	if truthy(args[0]) {
		return args[1], nil
	}
	return args[2], nil
}

func fnMatch(_ CallContext, args []string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("match: expected 2 arguments, got %d", len(args))
	}
	ok, err := filepath.Match(args[1], args[0])
	if err != nil {
		return "", fmt.Errorf("match: %w", err)
	}
	return boolString(ok), nil
}

func fnIsSandboxEnabled(ctx CallContext, args []string) (string, error) {
	if len(args) != 0 {
		return "", fmt.Errorf("is-sandbox-enabled: expected 0 arguments, got %d", len(args))
	}
	if ctx == nil {
		return boolString(false), nil
	}
	return boolString(ctx.SandboxEnabled()), nil
}

func fnIsTool(ctx CallContext, args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("is-tool: expected 1 argument, got %d", len(args))
	}
	if ctx == nil {
		return boolString(false), nil
	}
	return boolString(ctx.HasTool(args[0])), nil
}
