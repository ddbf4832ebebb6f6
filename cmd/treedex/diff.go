package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treedex/go-treedex/pkg/merkleindex"
)

type diffReport struct {
	Identical bool     `json:"identical"`
	OnlyInA   []string `json:"onlyInA"`
	OnlyInB   []string `json:"onlyInB"`
}

var diffCmd = &cobra.Command{
	Use:   "diff <path-a> <path-b>",
	Short: "List the records that differ between two stored trees",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := storeFromFlags(cmd)
		if err != nil {
			return err
		}

		a, err := merkleindex.Load(cmd.Context(), store, args[0])
		if err != nil {
			return fmt.Errorf("loading %s: %s", args[0], err)
		}
		b, err := merkleindex.Load(cmd.Context(), store, args[1])
		if err != nil {
			return fmt.Errorf("loading %s: %s", args[1], err)
		}
		if a == nil || b == nil {
			return errors.New("both trees must exist")
		}

		res, err := merkleindex.Diff(a.MerkleRoot(), b.MerkleRoot())
		if err != nil {
			return fmt.Errorf("diffing: %s", err)
		}

		report := diffReport{Identical: res.Identical}
		for _, n := range res.OnlyInA {
			report.OnlyInA = append(report.OnlyInA, merkleindex.LeafNames(n)...)
		}
		for _, n := range res.OnlyInB {
			report.OnlyInB = append(report.OnlyInB, merkleindex.LeafNames(n)...)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling report: %s", err)
			}
			cmd.Println(string(out))
			return nil
		}

		if report.Identical {
			cmd.Println("trees are identical")
			return nil
		}
		for _, name := range report.OnlyInA {
			cmd.Printf("only in %s: %s\n", args[0], name)
		}
		for _, name := range report.OnlyInB {
			cmd.Printf("only in %s: %s\n", args[1], name)
		}
		return nil
	},
}
