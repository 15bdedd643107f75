package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"canvas-backend/internal/model"
)

// Store is the part of the snapshot store the CLI uses.
type Store interface {
	History(ctx context.Context, roomID string, limit int) ([]model.CanvasSnapshot, error)
	At(ctx context.Context, roomID string, timestampMillis int64) (*model.CanvasSnapshot, error)
	Restore(ctx context.Context, roomID string, timestampMillis int64) (*model.CanvasSnapshot, error)
}

// Opener connects to the stores. withCache is set for commands that write Redis.
type Opener func(withCache bool) (Store, func(), error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Output string
	open   Opener
}

// ValidOutputs defines the allowed output formats.
var ValidOutputs = []string{"yaml", "json"}

// NewRootCommand creates the root command.
func NewRootCommand(open Opener) *cobra.Command {
	opts := &RootOptions{open: open}

	cmd := &cobra.Command{
		Use:   "snapshotctl",
		Short: "Inspect and restore durable canvas snapshots",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidOutputs, opts.Output) {
				return fmt.Errorf("invalid output %q: must be one of %v", opts.Output, ValidOutputs)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.Output, "output", "o", "yaml", "output format (yaml|json)")

	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))

	return cmd
}

// withStore opens the stores for the duration of fn.
func (o *RootOptions) withStore(withCache bool, fn func(Store) error) error {
	store, closeFn, err := o.open(withCache)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeFn()
	return fn(store)
}
