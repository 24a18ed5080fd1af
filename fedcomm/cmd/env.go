package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const envPrefix = "FEDCOMM_"

// envFile is loaded before any command runs. Variables already set in the
// environment win over the file.
var envFile = ".env"

// applyEnv fills every flag the user did not set from the environment. The
// flag --max-devices-per-selector reads FEDCOMM_MAX_DEVICES_PER_SELECTOR.
func applyEnv(cmd *cobra.Command) error {
	err := godotenv.Load(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", envFile, err)
	}

	var setErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed || setErr != nil {
			return
		}

		value, ok := os.LookupEnv(envName(f.Name))
		if !ok {
			return
		}

		if err := f.Value.Set(value); err != nil {
			setErr = fmt.Errorf("%s: %w", envName(f.Name), err)
		}
	})

	return setErr
}

func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}
