package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/treedex/go-treedex/buildinfo"
	"github.com/treedex/go-treedex/pkg/logging"
)

var cliName = "treedex"

var rootCmd = &cobra.Command{
	Use:   cliName,
	Short: "treedex inspects and maintains stored merkle index files",
	Long:  `treedex inspects and maintains stored merkle index files: print roots, diff two trees, upgrade legacy formats and prune records`,
	Args:  cobra.ExactArgs(0),
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		human, _ := cmd.Flags().GetBool("human")
		logging.SetupLogger(buildinfo.GitCommit, debug, human)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("executing command")
	}
}

func init() {
	rootCmd.PersistentFlags().String("dir", ".", "root directory of the index storage")
	rootCmd.PersistentFlags().Bool("compressed", false, "treat stored files as zstd compressed")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("human", true, "human readable logging")
	rootCmd.PersistentFlags().Bool("json", false, "print results as JSON")

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(rootHashCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(pruneCmd)
}
