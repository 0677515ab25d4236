package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/warden/internal/config"
)

// ErrNotFormatted is returned by RunFmt when the file differs from its
// canonical form and --write was not given.
var ErrNotFormatted = errors.New("configuration is not canonically formatted")

// RunFmt prints a unified diff between configFile and its canonical HCL
// rendering. With write set the file is rewritten instead.
func RunFmt(configFile string, write bool) error {
	if ext := strings.ToLower(filepath.Ext(configFile)); ext == ".json" || ext == ".yaml" || ext == ".yml" {
		return fmt.Errorf("%w: fmt only handles HCL files", ErrUsage)
	}
	src, err := os.ReadFile(configFile)
	if err != nil {
		return err
	}
	canonical, err := config.Format(src, configFile)
	if err != nil {
		return err
	}
	if bytes.Equal(src, canonical) {
		return nil
	}

	if write {
		info, err := os.Stat(configFile)
		if err != nil {
			return err
		}
		if err := os.WriteFile(configFile, canonical, info.Mode().Perm()); err != nil {
			return fmt.Errorf("rewrite %s: %w", configFile, err)
		}
		Printer.Fprintf(Stdout, "%s\n", configFile)
		return nil
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(src)),
		B:        difflib.SplitLines(string(canonical)),
		FromFile: configFile,
		ToFile:   configFile + " (canonical)",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return err
	}
	fmt.Fprint(Stdout, text)
	return ErrNotFormatted
}
