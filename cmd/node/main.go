// Command node joins a Ricart–Agrawala overlay: it registers with a
// coordinator, completes its connection plan, then repeatedly requests the
// distributed critical section to reserve and release a random seat.
package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/sincronizacion-distribuida/renraku/internal/bootstrap"
	"github.com/sincronizacion-distribuida/renraku/internal/cs"
	"github.com/sincronizacion-distribuida/renraku/internal/debugsrv"
	"github.com/sincronizacion-distribuida/renraku/internal/logging"
	"github.com/sincronizacion-distribuida/renraku/internal/ricart"
)

const seatCount = 10

var opt struct {
	controller string
	dwell      time.Duration
	think      time.Duration
	help       bool
}

func init() {
	pflag.StringVar(&opt.controller, "controller", "localhost:3000", "coordinator control address")
	pflag.DurationVar(&opt.dwell, "dwell", 4*time.Second, "time to hold the critical section")
	pflag.DurationVar(&opt.think, "think", 5*time.Second, "upper bound on the randomised wait before each request")
	pflag.BoolVarP(&opt.help, "help", "h", false, "show this help text")
}

func main() {
	pflag.Parse()
	log := logging.New("node")

	if opt.help {
		pflag.Usage()
		os.Exit(0)
	}

	if err := run(log); err != nil {
		log.Error().Err(err).Msg("node failed")
		os.Exit(1)
	}
}

func run(log zerolog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	plan, err := bootstrap.Configure(ctx, opt.controller, log)
	if err != nil {
		return errors.Wrap(err, "bootstrap")
	}

	nodeName := plan.ID.String()
	log = log.With().Str("node_name", nodeName).Logger()

	engine := ricart.New(plan.ID, plan.Peers, log)
	engine.Start()

	ledger := cs.NewSeatLedger(nodeName, seatCount)

	dbg, err := debugsrv.NewNode(nodeName, engine, ledger, log)
	if err != nil {
		return errors.Wrap(err, "start debug server")
	}
	defer dbg.Close()
	go func() {
		if err := dbg.Serve(); err != nil {
			log.Warn().Err(err).Msg("debug server stopped")
		}
	}()

	return driveLoop(ctx, nodeName, engine, ledger, log)
}

func driveLoop(ctx context.Context, nodeName string, engine *ricart.Engine, ledger *cs.SeatLedger, log zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-engine.Err():
			return errors.Wrap(err, "engine")
		case <-time.After(randomJitter(opt.think)):
		}

		if err := engine.Acquire(); err != nil {
			return errors.Wrap(err, "acquire")
		}

		seat := rand.Intn(seatCount) + 1
		if err := ledger.Reserve(seat, nodeName); err != nil {
			log.Debug().Int("seat", seat).Err(err).Msg("seat unavailable, trying to release instead")
		} else {
			log.Info().Int("seat", seat).Msg("entered critical section, reserved seat")
		}

		time.Sleep(opt.dwell)

		if err := ledger.Release(seat); err != nil {
			log.Debug().Int("seat", seat).Err(err).Msg("release skipped")
		}

		if err := engine.Release(); err != nil {
			return errors.Wrap(err, "release")
		}
		log.Info().Int("seat", seat).Msg("left critical section")
	}
}

func randomJitter(upper time.Duration) time.Duration {
	if upper <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(upper)))
}
