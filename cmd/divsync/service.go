package main

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/flemzord/divsync/pkg/app"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
)

// program adapts the long-running scheduler to the host service manager
// (systemd, launchd, Windows SCM).
type program struct {
	params app.RunParams

	mu sync.Mutex
	rt *app.Runtime
}

// Start must not block: the service manager waits for it to return.
func (p *program) Start(s service.Service) error {
	rt, err := app.Start(p.params)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.rt = rt
	p.mu.Unlock()
	return nil
}

func (p *program) Stop(_ service.Service) error {
	p.mu.Lock()
	rt := p.rt
	p.rt = nil
	p.mu.Unlock()
	if rt != nil {
		rt.Shutdown()
	}
	return nil
}

func newService(cmd *cobra.Command) (service.Service, error) {
	params := runParams(cmd)

	// Services run from an arbitrary working directory: pin the config.
	args := []string{"service", "run"}
	if params.ConfigPath != "" {
		abs, err := filepath.Abs(params.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("resolving config path: %w", err)
		}
		params.ConfigPath = abs
		args = append(args, "--config", abs)
	}
	if params.DataDir != "" {
		abs, err := filepath.Abs(params.DataDir)
		if err != nil {
			return nil, fmt.Errorf("resolving data dir: %w", err)
		}
		params.DataDir = abs
		args = append(args, "--data-dir", abs)
	}
	if params.LogLevel != "" {
		args = append(args, "--log-level", params.LogLevel)
	}

	name, _ := cmd.Flags().GetString("name")
	svcConfig := &service.Config{
		Name:        name,
		DisplayName: "divsync",
		Description: "Lease-guarded synchronization of division sessions.",
		Arguments:   args,
	}
	return service.New(&program{params: params}, svcConfig)
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage divsync as a system service",
	}
	cmd.PersistentFlags().String("name", "divsync", "Service name")

	for _, action := range []string{"install", "uninstall", "start", "stop", "restart"} {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the system service", action),
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := newService(cmd)
				if err != nil {
					return err
				}
				if err := service.Control(svc, action); err != nil {
					return fmt.Errorf("service %s: %w", action, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", action)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := newService(cmd)
			if err != nil {
				return err
			}
			return svc.Run()
		},
	})
	return cmd
}
