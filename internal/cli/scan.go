package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"chart-pattern-scanner/internal/app"
)

var (
	scanInput       string
	scanWindowSizes []int
	scanNumRecords  int
	scanNoDetect    bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Load bars, render windowed charts and keep those with detected patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		if scanNumRecords < 0 {
			return fmt.Errorf("--num-records must be greater than zero")
		}

		opts := app.ScanOptions{
			Input:       scanInput,
			WindowSizes: scanWindowSizes,
			NumRecords:  scanNumRecords,
			NoDetect:    scanNoDetect,
		}
		return getApp().Scan(cmd.Context(), opts)
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanInput, "input", "", "Override data.path (CSV file or SQLite database)")
	scanCmd.Flags().IntSliceVar(&scanWindowSizes, "window-sizes", nil, "Window sizes in bars, e.g. 24,50,72")
	scanCmd.Flags().IntVar(&scanNumRecords, "num-records", 0, "Number of most recent bars to load")
	scanCmd.Flags().BoolVar(&scanNoDetect, "no-detect", false, "Render charts without running detection")
}
