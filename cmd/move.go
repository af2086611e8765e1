package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rcp-ptz/internal/ptz"
)

var moveCmd = &cobra.Command{
	Use:   "move <camera>",
	Short: "Send a single move to a camera, bypassing the lock",
	Long: `Send one RCP+ move straight to a camera. No lease is taken, so this can
interrupt a session driven through the gateway. Meant for installation and
troubleshooting.`,
	Example: `  rcp-ptz move Cam1 --left 3 --up 2
  rcp-ptz move Cam1 --stop`,
	Args: cobra.ExactArgs(1),
	RunE: runMove,
}

var moveFlags ptz.Command

func init() {
	f := moveCmd.Flags()
	f.IntVar(&moveFlags.Left, ptz.ParamLeft, 0, "pan left speed (0-7)")
	f.IntVar(&moveFlags.Right, ptz.ParamRight, 0, "pan right speed (0-7)")
	f.IntVar(&moveFlags.Up, ptz.ParamUp, 0, "tilt up speed (0-7)")
	f.IntVar(&moveFlags.Down, ptz.ParamDown, 0, "tilt down speed (0-7)")
	f.IntVar(&moveFlags.ZoomIn, ptz.ParamZoomIn, 0, "zoom in speed (0-7)")
	f.IntVar(&moveFlags.ZoomOut, ptz.ParamZoomOut, 0, "zoom out speed (0-7)")
	f.BoolVar(&moveFlags.Stop, ptz.ParamStop, false, "stop all motion")
	rootCmd.AddCommand(moveCmd)
}

func runMove(cmd *cobra.Command, args []string) error {
	if err := moveFlags.Validate(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cc, ok := cfg.Camera(args[0])
	if !ok {
		return ptz.UnknownCamera(args[0])
	}

	client, err := newCameraClient(cc, cfg.RequestTimeout)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout+time.Second)
	defer cancel()

	if err := client.Move(ctx, moveFlags); err != nil {
		status, msg := ptz.StatusOf(err)
		return fmt.Errorf("move failed (%d): %s", status, msg)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", cc.ID, moveFlags)
	return nil
}
