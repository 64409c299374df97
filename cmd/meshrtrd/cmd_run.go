package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuuji/meshrtr/internal/console"
	"github.com/kuuji/meshrtr/internal/core"
	"github.com/kuuji/meshrtr/internal/domain"
	"github.com/kuuji/meshrtr/internal/fib"
	"github.com/kuuji/meshrtr/internal/l2ib"
	"github.com/kuuji/meshrtr/internal/l2provider"
	"github.com/kuuji/meshrtr/internal/wire"
)

var runNoFIB bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the routing daemon",
	Long: `Start meshrtrd: read the config file, open a multicast UDP transport on
each managed interface, and run the NHDP/OLSRv2 event loop until
interrupted.

Requires a wire.Codec to have been registered by a blank-imported
collaborator package (wire.RegisterCodec) under the name config's
olsrv2.codec key selects (default "rfc5444") — meshrtrd itself contains no
RFC 5444 parser.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runNoFIB, "no-fib", false, "compute routes but do not install them into the kernel FIB")
}

func runRun(cmd *cobra.Command, args []string) error {
	node, err := loadNode()
	if err != nil {
		return err
	}

	codec, err := wire.LookupCodec(node.Codec)
	if err != nil {
		return err
	}

	l2ibDB := l2ib.New()
	staticOrigin, err := l2provider.NewStaticOrigin(l2ibDB, globalLogger)
	if err != nil {
		return fmt.Errorf("constructing static L2IB origin: %w", err)
	}
	staticOrigin.Apply(node.StaticLayer2)
	defer staticOrigin.Close()

	interfaces := make([]core.InterfaceConfig, 0, len(node.Interfaces))
	var transports []wire.Transport
	for _, ip := range node.Interfaces {
		t, err := wire.NewUDPTransport(ip.Name, node.Originator.Family(), 0)
		if err != nil {
			for _, opened := range transports {
				opened.Close()
			}
			return fmt.Errorf("opening transport on %s: %w", ip.Name, err)
		}
		transports = append(transports, t)

		interfaces = append(interfaces, core.InterfaceConfig{
			Name:          ip.Name,
			Transport:     t,
			HelloInterval: ip.HelloInterval,
			HelloValidity: ip.HelloValidity,
			Willingness:   ip.Willingness,
		})
	}
	defer func() {
		for _, t := range transports {
			t.Close()
		}
	}()

	var fibDriver fib.Driver
	if !runNoFIB {
		fibDriver, err = newFIBDriver()
		if err != nil {
			return fmt.Errorf("%w (pass --no-fib to compute routes without installing them)", err)
		}
		defer fibDriver.Close()
	}

	engine, err := core.New(core.Config{
		Self:               node.Originator,
		Domains:            node.Domains,
		LANs:               node.LANs,
		Interfaces:         interfaces,
		Codec:              codec,
		TCInterval:         node.TCInterval,
		TCValidity:         node.TCValidity,
		TCHoldFactor:       node.TCHoldFactor,
		TickInterval:       node.TickInterval,
		ForwardHoldTime:    node.ForwardHoldTime,
		ProcessingHoldTime: node.ProcessingHoldTime,
	}, l2ibDB, fibDriver, globalLogger)
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}

	consoleSrv := console.NewServer(console.ResolveSocketPath(), func() console.Snapshot {
		var routes []domain.RouteEntry
		if engine.FIB != nil {
			routes = engine.FIB.Installed()
		}
		return console.Build(engine.NHDP, engine.Topology, engine.L2IB, routes, time.Now())
	}, globalLogger)
	if err := consoleSrv.Start(); err != nil {
		return fmt.Errorf("starting console server: %w", err)
	}
	defer consoleSrv.Stop()
	engine.SetConsole(consoleSrv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	globalLogger.Info("starting meshrtrd", "config", resolvedConfigPath(), "self", node.Originator, "interfaces", len(interfaces))

	if err := engine.Run(ctx); err != nil {
		if ctx.Err() != nil {
			globalLogger.Info("meshrtrd stopped")
			return nil
		}
		return fmt.Errorf("engine error: %w", err)
	}
	return nil
}
