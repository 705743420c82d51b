package main

import (
	"context"
	"fmt"

	"github.com/aoecas/aoecas/pkg/blob"
	"github.com/aoecas/aoecas/pkg/snapshot"
	"github.com/aoecas/aoecas/pkg/storage"
	"github.com/spf13/cobra"
)

func openCASBackend(casDir string) (*storage.CASBackend, error) {
	store, err := blob.NewFileStore(casDir)
	if err != nil {
		return nil, fmt.Errorf("open blob store %s: %w", casDir, err)
	}
	snaps, err := snapshot.Open(casDir + "/snapshots.json")
	if err != nil {
		return nil, fmt.Errorf("open snapshot index: %w", err)
	}
	// total_sectors is unknown outside the serving process for a
	// stand-alone admin command; it only gates range validation on
	// Read/Write, neither of which these subcommands perform.
	return storage.NewCASBackend(storage.CASOptions{Store: store, Snapshots: snaps})
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the snapshots recorded for a CAS backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		casDir, _ := cmd.Flags().GetString("cas-dir")
		backend, err := openCASBackend(casDir)
		if err != nil {
			return err
		}
		entries, err := backend.ListSnapshots(context.Background())
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s\t%d\t%s\n", e.ID, e.Timestamp, e.Description)
		}
		return nil
	},
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Record a new snapshot of the live root",
	RunE: func(cmd *cobra.Command, args []string) error {
		casDir, _ := cmd.Flags().GetString("cas-dir")
		description, _ := cmd.Flags().GetString("description")
		backend, err := openCASBackend(casDir)
		if err != nil {
			return err
		}
		id, err := backend.Snapshot(context.Background(), description)
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var snapshotRestoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore the live root to a named snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		casDir, _ := cmd.Flags().GetString("cas-dir")
		id, _ := cmd.Flags().GetString("id")
		backend, err := openCASBackend(casDir)
		if err != nil {
			return err
		}
		return backend.Restore(context.Background(), id)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{snapshotListCmd, snapshotCreateCmd, snapshotRestoreCmd} {
		cmd.Flags().String("cas-dir", "", "Path to the CAS backend's blob store directory")
		_ = cmd.MarkFlagRequired("cas-dir")
	}
	snapshotCreateCmd.Flags().String("description", "", "Optional human-readable description")
	snapshotRestoreCmd.Flags().String("id", "", "Snapshot id (root hash hex) to restore")
	_ = snapshotRestoreCmd.MarkFlagRequired("id")
}
