package config

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/dhcgn/mailclient/credential"
)

var ErrNoTerminal = errors.New("stdin is not a terminal")

// Prompter asks the user for a secret.
type Prompter func(label string) (string, error)

// TerminalPrompt reads a password from stdin without echoing it.
func TerminalPrompt(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", ErrNoTerminal
	}
	fmt.Fprintf(os.Stderr, "%s: ", label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

// Passwords fills in passwords that were not given by flag or environment.
type Passwords struct {
	Global Global
	Store  *credential.Store
	Prompt Prompter
}

// Resolve returns current when set, then the keyring entry for key when the
// keyring is enabled, then a prompt answer when prompting is enabled. It
// returns "" when every source is empty; not every server wants a password.
func (p Passwords) Resolve(current, key, label string) (string, error) {
	if current != "" || key == "" {
		return current, nil
	}
	if p.Global.UseKeyring {
		if v := p.Store.Lookup(key); v != "" {
			return v, nil
		}
	}
	if p.Global.AskPassword && p.Prompt != nil {
		v, err := p.Prompt(label)
		if err != nil && !errors.Is(err, ErrNoTerminal) {
			return "", err
		}
		return v, nil
	}
	return "", nil
}
