package cmd

import (
	"fmt"
	"os"

	"grimm.is/warden/internal/config"
)

// RunInit writes the default configuration to path. An existing file is
// only replaced when force is set.
func RunInit(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.SaveFile(config.Default(), path); err != nil {
		return err
	}
	Printer.Fprintf(Stdout, "Wrote default configuration to %s\n", path)
	return nil
}
