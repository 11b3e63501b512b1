package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	utilserrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"

	"liftgateway/cmd/liftgateway/options"
	baseoptions "liftgateway/pkg/generic/options"
	"liftgateway/pkg/version"
	"liftgateway/pkg/version/verflag"
)

const (
	ComponentGateway = "lift-gateway"
)

func NewGatewayCmd() *cobra.Command {
	cleanFlagSet := pflag.NewFlagSet(ComponentGateway, pflag.ContinueOnError)
	o := options.NewDefaultOptions()
	cmd := &cobra.Command{
		Use:                ComponentGateway,
		Long:               `The lift gateway drives a motorized lift column over its serial bus and bridges it to an MQTT broker.`,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// initial flag parse, since we disable cobra's flag parsing
			if err := cleanFlagSet.Parse(args); err != nil {
				klog.ErrorS(err, "Failed to parse flag")
				_ = cmd.Usage()
				os.Exit(1)
			}

			// check if there are non-flag arguments in the command line
			cmds := cleanFlagSet.Args()
			if len(cmds) > 0 {
				klog.ErrorS(nil, "Unknown command", "command", cmds[0])
				_ = cmd.Usage()
				os.Exit(1)
			}

			// short-circuit on help
			baseoptions.PrintHelpAndExitIfRequested(cmd, cleanFlagSet)

			// short-circuit on defaultconfig
			baseoptions.PrintDefaultConfigAndExitIfRequested(options.NewDefaultOptions(), cleanFlagSet)

			// short-circuit on verflag
			verflag.PrintAndExitIfRequested()

			if err := baseoptions.ParseAndApplyConfigFile(o, args); err != nil {
				return err
			}

			if errs := options.Validate(o); len(errs) != 0 {
				return utilserrors.NewAggregate(errs)
			}

			// To help debugging, immediately log version
			klog.Infof("Version: %+v", version.Get())
			return run(o)
		},
	}

	verflag.AddFlags(cleanFlagSet)
	o.AddFlags(cleanFlagSet)
	o.AddBaseFlags(cmd, cleanFlagSet)

	return cmd
}

func run(o *options.Options) error {
	c, err := o.Config()
	if err != nil {
		return err
	}
	defer c.Port.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- c.Coordinator.Run(ctx) }()
	go func() { errCh <- c.Controller.Run(ctx) }()
	klog.V(1).InfoS("Gateway started", "serialPort", o.SerialPort, "broker", o.MqttHost)

	// Graceful shutdown
	// Wait for interrupt signal or either loop failing
	exitCh := make(chan os.Signal, 1)
	// kill (no param) default send syscall.SIGTERM
	// kill -2 is syscall.SIGINT
	// kill -9 is syscall.SIGKILL but can't be catch, so don't need add it
	signal.Notify(exitCh, syscall.SIGINT, syscall.SIGTERM)

	var firstErr error
	remaining := 2
	select {
	case sig := <-exitCh:
		klog.V(1).InfoS("Shutting down", "signal", sig.String())
	case err := <-errCh:
		remaining--
		if err != nil && !errors.Is(err, context.Canceled) {
			firstErr = err
			klog.ErrorS(err, "Serving loop failed")
		}
	}
	cancel()

	deadline := time.After(o.Wait)
	for ; remaining > 0; remaining-- {
		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
				firstErr = err
			}
		case <-deadline:
			klog.InfoS("Timed out waiting for serving loops to stop")
			return firstErr
		}
	}

	return firstErr
}
