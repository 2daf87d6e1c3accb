//go:build tools
// +build tools

// Package tools pins the versions of code generation and lint tooling used by go:generate and CI.
package tools

import (
	_ "golang.org/x/lint/golint"
	_ "golang.org/x/tools/cmd/stringer"
)
