package main

import (
	"encoding/hex"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/treedex/go-treedex/pkg/merkleindex"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type inspectReport struct {
	ID       string `json:"id"`
	Version  uint32 `json:"version"`
	Items    int    `json:"items"`
	RootHash string `json:"rootHash"`
	Metadata string `json:"metadata,omitempty"`
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <path>",
	Short: "Print identity, version, item count and root hash of a stored tree",
	Args:  cobra.ExactArgs(1),
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

		report := inspectReport{
			ID:       tree.ID().String(),
			Version:  tree.Version(),
			Items:    tree.Len(),
			RootHash: hex.EncodeToString(tree.RootHash()),
			Metadata: tree.Metadata().String(),
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling report: %s", err)
			}
			cmd.Println(string(out))
			return nil
		}

		cmd.Printf("id:       %s\n", report.ID)
		cmd.Printf("version:  %d\n", report.Version)
		cmd.Printf("items:    %d\n", report.Items)
		cmd.Printf("root:     %s\n", report.RootHash)
		if report.Metadata != "" {
			cmd.Printf("metadata: %s\n", report.Metadata)
		}
		return nil
	},
}

var rootHashCmd = &cobra.Command{
	Use:   "root <path>",
	Short: "Print the merkle root hash of a stored tree",
	Args:  cobra.ExactArgs(1),
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
		cmd.Println(hex.EncodeToString(tree.RootHash()))
		return nil
	},
}
