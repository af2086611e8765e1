package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kardianos/service"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const stopTimeout = 10 * time.Second

var serviceCmd = &cobra.Command{
	Use:       "service <install|uninstall|start|stop|restart|run>",
	Short:     "Manage the gateway as a system service",
	Args:      cobra.ExactArgs(1),
	ValidArgs: append([]string{"run"}, service.ControlAction[:]...),
	RunE: func(_ *cobra.Command, args []string) error {
		s, err := newSystemService()
		if err != nil {
			return err
		}

		if args[0] == "run" {
			return s.Run()
		}
		if err := service.Control(s, args[0]); err != nil {
			return fmt.Errorf("service %s failed: %w", args[0], err)
		}
		log.Infof("Service %s done", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serviceCmd)
}

// program implements the kardianos/service interface
type program struct {
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(service.Service) error {
	// Start should not block, the gateway runs in the background
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)

	go func() {
		err := runGateway(ctx, cfg)
		if err != nil && ctx.Err() == nil {
			// Exit so the service manager restarts us
			log.Errorf("Gateway stopped: %v", err)
			os.Exit(1)
		}
		p.done <- err
	}()
	return nil
}

func (p *program) Stop(service.Service) error {
	log.Info("Stopping service...")
	if p.cancel == nil {
		return nil
	}
	p.cancel()

	select {
	case err := <-p.done:
		return err
	case <-time.After(stopTimeout):
		return errors.New("timed out waiting for the gateway to stop")
	}
}

func newSystemService() (service.Service, error) {
	args := []string{"service", "run"}
	if cfgFile != "" {
		abs, err := filepath.Abs(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path: %w", err)
		}
		args = append(args, "--config", abs)
	}

	svcConfig := &service.Config{
		Name:        "rcp-ptz",
		DisplayName: "RCP+ PTZ gateway",
		Description: "HTTP gateway leasing pan/tilt/zoom control of Bosch RCP+ cameras",
		Arguments:   args,
	}

	s, err := service.New(&program{}, svcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return s, nil
}
