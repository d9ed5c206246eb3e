package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// operatorPassphrase resolves the keystore passphrase. A set environment
// variable wins; otherwise an interactive operator is prompted on stderr.
// Without a terminal the passphrase is empty, which is what a freshly
// generated development keystore uses.
func operatorPassphrase(envVar string, stdin *os.File, prompt io.Writer) (string, error) {
	if envVar = strings.TrimSpace(envVar); envVar != "" {
		if value, ok := os.LookupEnv(envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", envVar)
			}
			return value, nil
		}
	}
	if stdin == nil || !term.IsTerminal(int(stdin.Fd())) {
		return "", nil
	}

	fmt.Fprint(prompt, "Enter operator keystore passphrase: ")
	raw, err := term.ReadPassword(int(stdin.Fd()))
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	return string(raw), nil
}
