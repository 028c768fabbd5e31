package cli

import (
	"github.com/spf13/cobra"

	"chart-pattern-scanner/internal/app"
)

var (
	detectImageDir string
	detectOutDir   string
)

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run pattern detection over an existing chart directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Detect(cmd.Context(), app.DetectOptions{
			ImageDir: detectImageDir,
			OutDir:   detectOutDir,
		})
	},
}

func init() {
	detectCmd.Flags().StringVar(&detectImageDir, "images", "", "Override render.dir")
	detectCmd.Flags().StringVar(&detectOutDir, "out", "", "Override output.dir")
}
