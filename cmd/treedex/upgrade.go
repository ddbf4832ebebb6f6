package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/treedex/go-treedex/pkg/merkleindex"
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade <path>",
	Short: "Rewrite a legacy-format tree at the current format version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storeFromFlags(cmd)
		if err != nil {
			return err
		}

		version, ok, err := merkleindex.LoadVersion(cmd.Context(), store, args[0])
		if err != nil {
			return fmt.Errorf("probing %s: %s", args[0], err)
		}
		if !ok {
			return errors.New("tree not found")
		}
		if version == merkleindex.CurrentVersion {
			log.Info().Str("path", args[0]).Msg("tree is already at the current version")
			return nil
		}

		tree, err := merkleindex.Load(cmd.Context(), store, args[0])
		if err != nil {
			return fmt.Errorf("loading %s: %s", args[0], err)
		}
		if err := tree.Save(cmd.Context(), store, args[0]); err != nil {
			return fmt.Errorf("saving %s: %s", args[0], err)
		}
		log.Info().
			Str("path", args[0]).
			Uint32("from", version).
			Uint32("to", merkleindex.CurrentVersion).
			Msg("tree upgraded")
		return nil
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune <path> <prefix>...",
	Short: "Drop every record whose name starts with one of the prefixes",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storeFromFlags(cmd)
		if err != nil {
			return err
		}

		tree, err := merkleindex.Load(cmd.Context(), store, args[0])
		if err != nil {
			return fmt.Errorf("loading %s: %s", args[0], err)
		}
		if tree == nil {
			return errors.New("tree not found")
		}

		before := tree.Len()
		rebuilt, err := tree.Rebuild(args[1:])
		if err != nil {
			return fmt.Errorf("rebuilding: %s", err)
		}
		if err := rebuilt.Save(cmd.Context(), store, args[0]); err != nil {
			return fmt.Errorf("saving %s: %s", args[0], err)
		}
		log.Info().
			Str("path", args[0]).
			Int("dropped", before-rebuilt.Len()).
			Int("kept", rebuilt.Len()).
			Msg("tree pruned")
		return nil
	},
}
