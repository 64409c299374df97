// Package core is the event loop that ties the NHDP link/neighbor state
// machine, the OLSRv2 topology database, route computation, FIB
// reconciliation, and the Layer-2 Information Base into one running node
// (spec §5, §9). It owns every mutable database. Inbound HELLO/TC messages
// are processed one at a time on a single goroutine (processLoop); a
// separate housekeeping goroutine expires timers, re-runs MPR selection and
// drives route computation and FIB reconciliation. The NHDP and topology
// databases are therefore written from both goroutines, each call
// serialized by that database's own mutex.
//
// Grounded on the teacher's internal/agent.Agent: one struct owning every
// subsystem, a Run(ctx) that wires everything up and then blocks, and a
// select-based processing loop — scaled from one input channel to several
// goroutines (one inbound reader per interface, one housekeeping ticker)
// funneled through golang.org/x/sync/errgroup, since this daemon listens on
// many interfaces at once instead of one signaling connection.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"golang.org/x/sync/errgroup"

	"github.com/kuuji/meshrtr/internal/addr"
	"github.com/kuuji/meshrtr/internal/console"
	"github.com/kuuji/meshrtr/internal/domain"
	"github.com/kuuji/meshrtr/internal/dupset"
	"github.com/kuuji/meshrtr/internal/fib"
	"github.com/kuuji/meshrtr/internal/l2ib"
	"github.com/kuuji/meshrtr/internal/mpr"
	"github.com/kuuji/meshrtr/internal/nhdp"
	"github.com/kuuji/meshrtr/internal/router"
	"github.com/kuuji/meshrtr/internal/topology"
	"github.com/kuuji/meshrtr/internal/wire"
)

// inboundPDU is one datagram read off a Transport, queued for the single
// processing goroutine.
type inboundPDU struct {
	ifname string
	pdu    []byte
	from   addr.NetAddr
}

// Engine is the running node: every database, engine, and subsystem Config
// wires together, plus the outbound sequence/ANSN counters and the
// advertisement-hold gate.
type Engine struct {
	log    *slog.Logger
	clock  Clock
	self   addr.NetAddr
	cfg    Config
	domIDs []domain.ID

	interfaces map[string]InterfaceConfig

	codec wire.Codec

	NHDP     *nhdp.DB
	nhdpEng  *nhdp.Engine
	Topology *topology.DB
	topoEng  *topology.Engine
	L2IB     *l2ib.DB
	Router   *router.Router
	FIB      *fib.Reconciler
	Console  *console.Server

	processedDup *dupset.Set
	forwardedDup *dupset.Set

	floodingMPR mpr.Handler
	routingMPR  map[string]mpr.Handler

	helloSeq atomic.Uint32

	tcGate    topology.AdvertisementGate
	tcANSN    uint16
	tcHash    uint64
	tcHasHash bool

	inbound chan inboundPDU
}

// New constructs an Engine from cfg and every already-built database
// (NHDP, topology, L2IB, FIB driver, console). l2ibDB may be nil if no
// Layer-2 provider is configured, in which case every link falls back to
// hopcount metric (spec §3.2).
func New(cfg Config, l2ibDB *l2ib.DB, fibDriver fib.Driver, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	if cfg.Self.IsZero() {
		return nil, fmt.Errorf("core: Config.Self must be set")
	}
	if len(cfg.Interfaces) == 0 {
		return nil, fmt.Errorf("core: Config.Interfaces must name at least one managed interface")
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("core: Config.Codec must be set")
	}

	domIDs := make([]domain.ID, 0, len(cfg.Domains))
	for _, d := range cfg.Domains {
		domIDs = append(domIDs, d.ID)
	}

	ifaces := make(map[string]InterfaceConfig, len(cfg.Interfaces))
	for _, ic := range cfg.Interfaces {
		ifaces[ic.Name] = ic
	}

	log := logger.With("component", "core")

	nhdpDB := nhdp.NewDB()
	localAddr := func(ifname string) []addr.NetAddr {
		if l2ibDB == nil {
			return nil
		}
		net, ok := l2ibDB.Net(ifname)
		if !ok {
			return nil
		}
		return net.LocalAddrs()
	}
	var metricSource nhdp.MetricSource
	if l2ibDB != nil {
		metricSource = newL2IBMetricSource(l2ibDB)
	} else {
		metricSource = constantHopcount{}
	}
	nhdpEng := nhdp.NewEngine(nhdpDB, metricSource, localAddr, logger)

	topoDB := topology.NewDB()
	topoEng := topology.NewEngine(topoDB, logger)

	rtr := router.New(nhdpDB, topoDB, cfg.Self, ifIndexSourceStub, localAddr, logger)

	var reconciler *fib.Reconciler
	if fibDriver != nil {
		reconciler = fib.New(fibDriver, logger)
	}

	e := &Engine{
		log:          log,
		clock:        cfg.Clock,
		self:         cfg.Self,
		cfg:          cfg,
		domIDs:       domIDs,
		interfaces:   ifaces,
		codec:        cfg.Codec,
		NHDP:         nhdpDB,
		nhdpEng:      nhdpEng,
		Topology:     topoDB,
		topoEng:      topoEng,
		L2IB:         l2ibDB,
		Router:       rtr,
		FIB:          reconciler,
		processedDup: dupset.New(cfg.Clock.Now),
		forwardedDup: dupset.New(cfg.Clock.Now),
		floodingMPR:  mpr.DefaultHandler{},
		routingMPR:   map[string]mpr.Handler{"default": mpr.DefaultHandler{}},
		tcGate:       topology.AdvertisementGate{HoldFactor: cfg.TCHoldFactor},
		inbound:      make(chan inboundPDU, 64),
	}
	return e, nil
}

// ifIndexSourceStub satisfies router.IfIndexSource when no kernel interface
// index mapping has been wired in; the Linux FIB driver resolves the real
// index itself from the interface name, so RouteEntry.IfIndex being 0 here
// only matters to callers that read it directly off the computed set.
func ifIndexSourceStub(ifname string) (int, bool) { return 0, false }

// constantHopcount implements nhdp.MetricSource for the no-L2IB-configured
// case: every link costs 1 each way (spec §3.2's hopcount fallback).
type constantHopcount struct{}

func (constantHopcount) LinkCost(string, addr.NetAddr, domain.ID) (uint32, uint32, bool) {
	return 1, 1, true
}

// SetConsole attaches a console.Server and wires its Notify hook to the NHDP
// and topology databases' change listeners (spec §6.5's live feed); L2IB
// changes are not pushed. Those listeners run while the database holds its
// write lock and Notify reads the databases back through the snapshot
// provider, so each Notify runs on its own goroutine.
func (e *Engine) SetConsole(srv *console.Server) {
	e.Console = srv
	notify := func(ctx context.Context) {
		if e.Console != nil {
			e.Console.Notify(ctx)
		}
	}
	e.NHDP.Subscribe(func(nhdp.Event) { go notify(context.Background()) })
	e.Topology.Subscribe(func(topology.Event) { go notify(context.Background()) })
}

// mprHandlerFor resolves a domain's configured MPR handler by name,
// defaulting to mpr.DefaultHandler.
func (e *Engine) mprHandlerFor(name string) mpr.Handler {
	if h, ok := e.routingMPR[name]; ok {
		return h
	}
	return mpr.DefaultHandler{}
}

// Run starts every reader and housekeeping goroutine and blocks until ctx
// is canceled or a goroutine returns a fatal error (spec §5).
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, ic := range e.cfg.Interfaces {
		ic := ic
		g.Go(func() error { return e.readLoop(ctx, ic) })
	}

	g.Go(func() error { return e.processLoop(ctx) })
	g.Go(func() error { return e.housekeepingLoop(ctx) })

	for _, ic := range e.cfg.Interfaces {
		ic := ic
		g.Go(func() error { return e.helloLoop(ctx, ic) })
	}

	g.Go(func() error { return e.tcLoop(ctx) })

	err := g.Wait()
	if e.FIB != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if ferr := e.FIB.Flush(flushCtx); ferr != nil {
			e.log.Warn("flushing installed routes on shutdown", "error", ferr)
		}
	}
	return err
}

// readLoop pulls datagrams off one interface's Transport and feeds them to
// the single processing goroutine; it is the only goroutine that ever
// blocks on this Transport's ReadFrom (spec §5's "read a socket" blocking
// operation).
func (e *Engine) readLoop(ctx context.Context, ic InterfaceConfig) error {
	for {
		pdu, from, ifname, err := ic.Transport.ReadFrom(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.log.Warn("transport read failed", "interface", ic.Name, "error", err)
			continue
		}
		if ifname == "" {
			ifname = ic.Name
		}
		select {
		case e.inbound <- inboundPDU{ifname: ifname, pdu: pdu, from: from}:
		case <-ctx.Done():
			return nil
		}
	}
}

// processLoop is the single goroutine that ever calls ProcessHello/ProcessTC,
// the dupset gate, and MPR forwarding: every decoded message is handled
// one at a time in arrival order.
func (e *Engine) processLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-e.inbound:
			e.handleInboundPDU(p.ifname, p.pdu, p.from, e.clock.Now())
		}
	}
}

// housekeepingLoop expires NHDP/topology timers, re-runs MPR selection, and
// recomputes+reconciles the FIB on a fixed cadence (spec §5).
func (e *Engine) housekeepingLoop(ctx context.Context) error {
	interval := e.cfg.TickInterval
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	now := e.clock.Now()
	e.NHDP.Tick(now)
	e.Topology.Tick(now)

	for _, d := range e.cfg.Domains {
		e.nhdpEng.RunMPRSelection(d.ID, e.mprHandlerFor(d.MPRHandler), now)
	}
	e.nhdpEng.RunFloodingMPRSelection(e.floodingMPR, now)

	if e.FIB == nil {
		return
	}
	routes := e.Router.Compute(e.cfg.Domains, e.cfg.LANs, now)
	e.FIB.Reconcile(routes)
	if err := e.FIB.Drain(ctx); err != nil && ctx.Err() == nil {
		e.log.Warn("fib drain failed", "error", err)
	}
}

// nextHelloSeq hands out the RFC 5444 message sequence number this node
// stamps on its own outbound HELLOs (spec §4.3 notes these live in the same
// wraparound space dupset tracks for received messages). TC has no separate
// sequence counter: its <msg-seq-num> is the ANSN itself (bumpANSNIfChanged).
func (e *Engine) nextHelloSeq() uint16 { return uint16(e.helloSeq.Add(1)) }

// bumpANSNIfChanged computes whether content differs from the last TC sent
// and increments the ANSN only when it does (spec §4.4: ANSN advances on
// content change, not on a fixed schedule, so unrelated receivers don't
// treat an unchanged re-announcement as new information).
func (e *Engine) bumpANSNIfChanged(content any) uint16 {
	h, err := hashstructure.Hash(content, hashstructure.FormatV2, nil)
	if err != nil {
		e.tcANSN++
		return e.tcANSN
	}
	if !e.tcHasHash || h != e.tcHash {
		e.tcANSN++
		e.tcHash = h
		e.tcHasHash = true
	}
	return e.tcANSN
}
