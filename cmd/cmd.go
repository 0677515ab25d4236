// Package cmd implements the warden subcommands.
package cmd

import (
	"errors"
	"flag"
	"io"
	"os"

	"grimm.is/warden/internal/brand"
	"grimm.is/warden/internal/client"
	"grimm.is/warden/internal/i18n"
)

// Printer is the global message printer for the CLI.
var Printer = i18n.NewCLIPrinter()

// Stdout is where command output goes.
var Stdout io.Writer = os.Stdout

// ErrUsage is returned when arguments are missing or malformed.
var ErrUsage = errors.New("invalid arguments")

// remoteFlags are shared by the subcommands that talk to a running daemon.
type remoteFlags struct {
	api   string
	token string
}

func (r *remoteFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&r.api, "api", "", "API address (default $"+brand.ConfigEnvPrefix+"_API)")
	fs.StringVar(&r.token, "token", "", "API bearer token (default $"+brand.ConfigEnvPrefix+"_TOKEN)")
}

func (r *remoteFlags) client() *client.HTTPClient {
	var opts []client.ClientOption
	if r.token != "" {
		opts = append(opts, client.WithToken(r.token))
	}
	if r.api == "" {
		return client.FromEnv(opts...)
	}
	if r.token == "" {
		opts = append(opts, client.WithToken(brand.Env("TOKEN")))
	}
	return client.NewHTTPClient(r.api, opts...)
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}
