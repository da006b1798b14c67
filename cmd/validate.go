package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"firestige.xyz/pcapsplit/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file and print the effective configuration",
	Long: `Validate a configuration file without reading any packets.

Defaults, the file and PCAPSPLIT_* environment variables are merged exactly as
a real run would merge them and the result is printed as YAML.

Examples:
  pcapsplit validate -c /etc/pcapsplit/config.yml
  PCAPSPLIT_SPLIT_TIME=5m pcapsplit validate -c config.yml`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runValidateCommand()
	},
}

func runValidateCommand() {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}

	out, err := yaml.Marshal(map[string]*config.Config{"pcapsplit": cfg})
	if err != nil {
		exitWithError("failed to render configuration", err)
	}
	fmt.Printf("VALID: %s split into %s%s (%s transport)\n---\n%s",
		cfg.Split.Mode, cfg.Output.Base, cfg.Output.Suffix, cfg.Transport.Name, out)
}
