// Command coordinator bootstraps a Ricart–Agrawala overlay: it parses a
// graph file, waits for every declared vertex to register over UDP, and
// pushes each node its connection plan.
package main

import (
	"context"
	"net"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/sincronizacion-distribuida/renraku/internal/coordinator"
	"github.com/sincronizacion-distribuida/renraku/internal/debugsrv"
	"github.com/sincronizacion-distribuida/renraku/internal/graph"
	"github.com/sincronizacion-distribuida/renraku/internal/logging"
)

var opt struct {
	graphPath string
	address   string
	help      bool
}

func init() {
	pflag.StringVar(&opt.graphPath, "graph", "", "path to the graph description file")
	pflag.StringVar(&opt.address, "address", "localhost:3000", "UDP address to bind the control channel")
	pflag.BoolVarP(&opt.help, "help", "h", false, "show this help text")
}

func main() {
	pflag.Parse()
	log := logging.New("coordinator")

	if opt.help {
		pflag.Usage()
		os.Exit(0)
	}
	if opt.graphPath == "" {
		log.Error().Msg("--graph is required")
		pflag.Usage()
		os.Exit(2)
	}

	if err := run(); err != nil {
		log.Error().Err(err).Msg("coordinator failed")
		os.Exit(1)
	}
}

func run() error {
	log := logging.New("coordinator")

	f, err := os.Open(opt.graphPath)
	if err != nil {
		return errors.Wrap(err, "open graph file")
	}
	defer f.Close()

	g, err := graph.Parse(f)
	if err != nil {
		return errors.Wrap(err, "parse graph file")
	}
	log.Info().
		Int("vertices", g.NumVertices()).
		Int("edges", len(g.Edges)).
		Msg("graph loaded")

	udpAddr, err := net.ResolveUDPAddr("udp", opt.address)
	if err != nil {
		return errors.Wrap(err, "resolve control address")
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return errors.Wrap(err, "bind control channel")
	}
	defer conn.Close()
	log.Info().Str("addr", conn.LocalAddr().String()).Msg("control channel bound")

	dbg, err := debugsrv.NewCoordinator("coordinator", log)
	if err != nil {
		return errors.Wrap(err, "start debug server")
	}
	defer dbg.Close()
	go func() {
		if err := dbg.Serve(); err != nil {
			log.Warn().Err(err).Msg("debug server stopped")
		}
	}()

	coord := coordinator.New(g, conn, log)
	return coord.Run(context.Background())
}
