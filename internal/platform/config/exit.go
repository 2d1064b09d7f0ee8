package config

import (
	"fmt"
	"os"
)

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// ExitOnError exits through Exitf when err is non-nil, naming the step that failed.
func ExitOnError(step string, err error) {
	if err == nil {
		return
	}
	Exitf("%s: %v", step, err)
}
