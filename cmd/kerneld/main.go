// Copyright 2016 Google Inc. All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command kerneld is a demo host process for the simulated kernel: it
// boots a scheduler, spawns a small fixed set of demonstration threads,
// and serves the debug/metrics endpoints while they run.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"github.com/pkg/errors"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/mneedes/microkern/config"
	"github.com/mneedes/microkern/debugserver"
	"github.com/mneedes/microkern/hal"
	"github.com/mneedes/microkern/klog"
	"github.com/mneedes/microkern/kqueue"
	"github.com/mneedes/microkern/kthread"
	"github.com/mneedes/microkern/ktime"
	"github.com/mneedes/microkern/ktimer"
	"github.com/mneedes/microkern/sched"
	"github.com/mneedes/microkern/sharedctx"
)

func main() {
	if _, err := maxprocs.Set(); err != nil {
		fmt.Fprintf(os.Stderr, "kerneld: maxprocs.Set: %v\n", err)
	}

	sync := klog.Init("kerneld")
	defer sync()
	log := klog.Get()

	root, err := rootCommand()
	if err != nil {
		log.Fatal("building command tree", zap.Error(err))
	}
	if err := root.ParseAndRun(context.Background(), os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal("kerneld exited with error", zap.Error(err))
	}
}

func rootCommand() (*ffcli.Command, error) {
	fs := flag.NewFlagSet("kerneld", flag.ExitOnError)
	return &ffcli.Command{
		Name:       "kerneld",
		ShortUsage: "kerneld <subcommand> [flags]",
		ShortHelp:  "run or inspect the simulated kernel",
		FlagSet:    fs,
		Subcommands: []*ffcli.Command{
			runCommand(),
			selftestCommand(),
		},
	}, nil
}

func runCommand() *ffcli.Command {
	cfg := config.Default()
	fs := flag.NewFlagSet("kerneld run", flag.ExitOnError)
	cfg.RegisterFlags(fs)
	addr := fs.String("listen", ":6070", "address the debug/metrics HTTP server listens on")
	enablePprof := fs.Bool("pprof", false, "enable pprof handlers on the debug server")
	duration := fs.Duration("duration", 0, "stop after this long; 0 runs until interrupted")

	return &ffcli.Command{
		Name:       "run",
		ShortUsage: "kerneld run [flags]",
		ShortHelp:  "boot the kernel and serve its debug endpoints",
		FlagSet:    fs,
		Options:    []ff.Option{ff.WithEnvVarPrefix("MICROKERN")},
		Exec: func(ctx context.Context, args []string) error {
			return runKernel(ctx, cfg, *addr, *enablePprof, *duration)
		},
	}
}

func runKernel(ctx context.Context, cfg *config.Config, addr string, enablePprof bool, duration time.Duration) error {
	log := klog.Get()

	clock := ktime.NewClock(cfg.MicrosecondsPerTick)
	wheel := ktimer.NewWheel()
	sc := sched.New(sched.Config{
		MaxPriorities: cfg.MaxThreadPriorities,
		Clock:         clock,
		Wheel:         wheel,
		Log:           log,
	})

	mid := cfg.MaxThreadPriorities / 2
	spawnDemoThreads(sc, mid, log)

	sc.StartKernel()
	defer sc.StopKernel()

	mux := http.NewServeMux()
	debugserver.AddHandlers(mux, enablePprof)
	server := &http.Server{Addr: addr, Handler: mux}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()
	log.Info("kerneld listening", zap.String("addr", addr))

	runCtx := ctx
	var cancel context.CancelFunc
	if duration > 0 {
		runCtx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	select {
	case <-runCtx.Done():
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "debug server")
		}
	}
	return server.Close()
}

// spawnDemoThreads wires a small producer/consumer pair over a
// kqueue.Queue and a two-client sharedctx.Context, so a running kerneld
// exercises the same primitives its own package tests do rather than
// just idling the scheduler.
func spawnDemoThreads(sc *sched.Scheduler, priority int, log *zap.Logger) {
	work := kqueue.New(sc, "demo.work", 4)

	producer := kthread.New("demo-producer", priority, func(self *kthread.Descriptor) {
		for i := 0; ; i++ {
			work.Send(self, i)
			sc.Yield(self)
		}
	}, nil, nil, nil, 0, log.Named("demo-producer"))

	consumer := kthread.New("demo-consumer", priority, func(self *kthread.Descriptor) {
		for {
			v := work.Receive(self)
			log.Debug("demo consumer received", zap.Any("value", v))
		}
	}, nil, nil, nil, 0, log.Named("demo-consumer"))

	sc.Spawn(producer)
	sc.Spawn(consumer)

	pingCtx := sharedctx.New(sc, "demo.pingctx", 4, 0, log.Named("demo-pingctx"))
	pingCtx.Start(priority, 0)

	driver := kthread.New("demo-driver", priority, func(self *kthread.Descriptor) {
		client := pingCtx.AttachClient(self, "demo-client", func(msg sharedctx.ContextMessage) bool {
			switch msg.MsgID {
			case sharedctx.StartClient:
				log.Debug("demo shared-context client attached", zap.String("client", msg.Client.Name()))
			case sharedctx.StopClient:
				log.Debug("demo shared-context client detached", zap.String("client", msg.Client.Name()))
			default:
				log.Debug("demo shared-context client received ping", zap.Uint32("msg_id", msg.MsgID))
			}
			return true
		}, nil)

		for i := uint32(0); i < 10; i++ {
			pingCtx.Unicast(self, client, i, nil)
			sc.Yield(self)
		}
		pingCtx.DetachClient(self, client)
	}, nil, nil, nil, 0, log.Named("demo-driver"))
	sc.Spawn(driver)
}

func selftestCommand() *ffcli.Command {
	fs := flag.NewFlagSet("kerneld selftest", flag.ExitOnError)
	return &ffcli.Command{
		Name:       "selftest",
		ShortUsage: "kerneld selftest",
		ShortHelp:  "run the HAL self-test battery against the simulated HAL",
		FlagSet:    fs,
		Exec: func(ctx context.Context, args []string) error {
			h := hal.NewSimHAL()
			if err := h.Init(); err != nil {
				return errors.Wrap(err, "hal init")
			}
			if err := hal.SelfTest(ctx, h); err != nil {
				return errors.Wrap(err, "hal selftest")
			}
			fmt.Println("hal selftest: ok")
			return nil
		},
	}
}
