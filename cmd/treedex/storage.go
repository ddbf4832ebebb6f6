package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/treedex/go-treedex/pkg/storage"
)

// storeFromFlags builds the storage stack the persistent flags describe.
func storeFromFlags(cmd *cobra.Command) (storage.Storage, error) {
	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return nil, err
	}
	store, err := storage.NewLocal(dir)
	if err != nil {
		return nil, fmt.Errorf("opening storage at %s: %s", dir, err)
	}

	compressed, err := cmd.Flags().GetBool("compressed")
	if err != nil {
		return nil, err
	}
	if compressed {
		return storage.NewCompressed(store), nil
	}
	return store, nil
}
