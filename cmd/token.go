package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"grimm.is/warden/internal/api"
)

// RunHashToken prints the bcrypt hash of a bearer token for api.token_hash.
// With no argument, or "-", the token is read from stdin.
func RunHashToken(args []string) error {
	var token string
	switch {
	case len(args) > 1:
		return fmt.Errorf("%w: hash-token takes one token", ErrUsage)
	case len(args) == 1 && args[0] != "-":
		token = args[0]
	default:
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		token = strings.TrimSpace(line)
	}
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrUsage)
	}
	hash, err := api.HashToken(token)
	if err != nil {
		return err
	}
	Printer.Fprintln(Stdout, hash)
	return nil
}
