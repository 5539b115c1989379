package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const envConfig = "REMINDD_CONFIG"

func main() {
	// A missing .env is normal; the environment alone is enough.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	config string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "remindd",
		Short:         "Task scheduling and reminder daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	def := strings.TrimSpace(os.Getenv(envConfig))
	if def == "" {
		def = "./config.json"
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", def, "path to config (JSON or YAML); env "+envConfig)

	root.AddCommand(
		newRunCmd(f),
		newEntriesCmd(f),
		newAddCmd(f),
		newNextCmd(),
	)
	return root
}
