package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"rcp-ptz/internal/config"
	"rcp-ptz/internal/control"
	"rcp-ptz/internal/lock"
	"rcp-ptz/internal/preview"
	"rcp-ptz/internal/rcp"
	"rcp-ptz/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runGateway(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().String("listen", "[::1]:5000", "HTTP listen address")
	serveCmd.Flags().String("context-path", "/", "URL prefix of every route")
	serveCmd.Flags().Duration("auto-release-delay", lock.DefaultDelay, "release a camera lock after this long without moves")
	_ = v.BindPFlag(config.KeyListen, serveCmd.Flags().Lookup("listen"))
	_ = v.BindPFlag(config.KeyContextPath, serveCmd.Flags().Lookup("context-path"))
	_ = v.BindPFlag(config.KeyAutoReleaseDelay, serveCmd.Flags().Lookup("auto-release-delay"))
	rootCmd.AddCommand(serveCmd)
}

// runGateway serves until ctx is cancelled
func runGateway(ctx context.Context, cfg *config.Config) error {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	svc, previews, err := buildGateway(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warnf("Failed to close cameras: %v", err)
		}
	}()

	for id, src := range previews {
		log.Infof("Starting live preview for %s", id)
		src.Start()
		defer src.Close()
	}

	var static fs.FS
	if webFS != nil {
		if static, err = fs.Sub(webFS, "web"); err != nil {
			return fmt.Errorf("failed to open web assets: %w", err)
		}
	}

	srv := server.New(server.Config{
		Listen:      cfg.Listen,
		ContextPath: cfg.ContextPath,
	}, svc, previews, static)

	log.Infof("PTZ gateway for %d camera(s), lock auto release after %v", len(cfg.Cameras), cfg.AutoReleaseDelay)
	for _, cam := range cfg.Cameras {
		log.Debugf("  camera %s", cam)
	}
	return srv.Start(ctx)
}

// buildGateway creates one RCP+ client per camera, the control service
// and the preview sources of cameras with an RTSP stream
func buildGateway(cfg *config.Config) (*control.Service, map[string]*preview.Source, error) {
	cams := make([]control.Camera, 0, len(cfg.Cameras))
	closeAll := func() {
		for _, cam := range cams {
			_ = cam.Controller.Close()
		}
	}

	previews := make(map[string]*preview.Source)
	for _, cc := range cfg.Cameras {
		client, err := newCameraClient(cc, cfg.RequestTimeout)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		cams = append(cams, control.Camera{ID: cc.ID, Controller: client})

		if cc.RTSP != "" {
			src, err := preview.NewSource(cc.ID, cc.RTSP)
			if err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("camera %s: %w", cc.ID, err)
			}
			previews[cc.ID] = src
		}
	}

	svc, err := control.NewService(control.Config{AutoReleaseDelay: cfg.AutoReleaseDelay}, cams)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	return svc, previews, nil
}

func newCameraClient(cc config.CameraConfig, timeout time.Duration) (*rcp.Client, error) {
	client, err := rcp.NewClient(rcp.Config{
		Name:     cc.ID,
		URL:      cc.URL,
		Username: cc.Username,
		Password: cc.Password,
		Auth:     cc.Auth,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("camera %s: %w", cc.ID, err)
	}
	return client, nil
}
