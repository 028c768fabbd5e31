package cli

import (
	"github.com/spf13/cobra"

	"chart-pattern-scanner/internal/app"
)

var (
	windowsInput       string
	windowsWindowSizes []int
	windowsNumRecords  int
	windowsShowSkipped bool
)

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "List the windows a scan would render, without writing files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		a.Out = cmd.OutOrStdout()
		return a.Windows(cmd.Context(), app.WindowsOptions{
			Input:       windowsInput,
			WindowSizes: windowsWindowSizes,
			NumRecords:  windowsNumRecords,
			ShowSkipped: windowsShowSkipped,
		})
	},
}

func init() {
	windowsCmd.Flags().StringVar(&windowsInput, "input", "", "Override data.path (CSV file or SQLite database)")
	windowsCmd.Flags().IntSliceVar(&windowsWindowSizes, "window-sizes", nil, "Window sizes in bars, e.g. 24,50,72")
	windowsCmd.Flags().IntVar(&windowsNumRecords, "num-records", 0, "Number of most recent bars to load")
	windowsCmd.Flags().BoolVar(&windowsShowSkipped, "skipped", true, "Include ranges dropped because of time gaps")
}
