package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/actuar/projector/internal/bus"
)

var busCmd = &cobra.Command{
	Use:   "bus",
	Short: "Inspect typed bus diagnostics",
}

var busInspectCmd = &cobra.Command{
	Use:   "inspect <snapshot.json>",
	Short: "Decode and print a bus snapshot captured on an integrity error",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := bus.LoadSnapshot(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("segment:     %s\n", snap.Name)
		fmt.Printf("version:     %d\n", snap.Version)
		fmt.Printf("shape:       %v\n", snap.Shape)
		fmt.Printf("captured at: %s\n", snap.CapturedAt.Format("2006-01-02T15:04:05Z07:00"))
		fmt.Printf("expect crc:  %08x\n", snap.ExpectCRC)
		fmt.Printf("actual crc:  %08x\n", snap.ActualCRC)
		fmt.Printf("bytes:       %d\n", len(snap.Bytes))
		if snap.ExpectCRC == snap.ActualCRC {
			fmt.Println("status:      crc matches (no corruption detected in this snapshot)")
		} else {
			fmt.Println("status:      crc mismatch, segment bytes corrupted")
		}
		return nil
	},
}

func init() {
	busCmd.AddCommand(busInspectCmd)
	rootCmd.AddCommand(busCmd)
}
