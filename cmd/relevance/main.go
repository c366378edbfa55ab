package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	apperrors "github.com/RepertoireLLC/A1x6nd7a-sub002/pkg/errors"
)

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "relevance",
		Short:         "Archive search relevance pipeline",
		Long:          `Spell correction, query expansion, safety classification and relevance scoring for archive search results`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (embedded defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")

	rootCmd.AddCommand(createSpellcheckCmd())
	rootCmd.AddCommand(createExpandCmd())
	rootCmd.AddCommand(createClassifyCmd())
	rootCmd.AddCommand(createScoreCmd())
	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createLearnCmd())
	rootCmd.AddCommand(createEventsCmd())
	rootCmd.AddCommand(createCacheCmd())
	rootCmd.AddCommand(createDoctorCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(apperrors.ExitCode(err))
	}
}
