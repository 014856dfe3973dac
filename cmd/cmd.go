package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/webitel/agentflow/config"
	"github.com/webitel/agentflow/internal/demo/delayedhello"
	"github.com/webitel/agentflow/internal/demo/hello"
	"github.com/webitel/agentflow/internal/demo/intercom"
	"github.com/webitel/agentflow/internal/demo/priority"
	"github.com/webitel/agentflow/internal/demo/svcchain"
	"github.com/webitel/agentflow/internal/demo/threadpoolfifo"
)

const (
	ServiceName      = "agentflow"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

// Run builds the cli.App and dispatches os.Args to it, the direct
// analogue of the teacher's cmd.Run.
func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "in-process actor runtime",
		Commands: []*cli.Command{
			serveCmd(),
			demoCmd(),
		},
	}

	return app.Run(os.Args)
}

var configFlag = &cli.StringFlag{
	Name:  "config_file",
	Usage: "Path to the configuration file",
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	return config.LoadConfig(c.String("config_file"), nil)
}

// serveCmd runs the fx app (the Runtime with the diag, live-trace and
// metrics adapters mounted) as a long-lived process until a signal, the
// way the teacher's serverCmd runs its gRPC server under the fx app's
// lifecycle. It registers no cooperation and does not call
// Environment.Start.
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Run the environment with the diagnostics, live-trace and metrics adapters mounted",
		Flags:   []cli.Flag{configFlag},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("SHUTTING_DOWN")
			return app.Stop(context.Background())
		},
	}
}

// demoCmd groups the six §8 end-to-end scenarios as subcommands, each
// building its own Runtime straight off NewDemoRuntime rather than
// going through the fx app, since a one-shot scenario has no adapter
// surface to start or stop.
func demoCmd() *cli.Command {
	return &cli.Command{
		Name:  "demo",
		Usage: "Run one of the end-to-end demo scenarios",
		Subcommands: []*cli.Command{
			helloCmd(),
			delayedHelloCmd(),
			prioritySequenceCmd(),
			threadPoolFIFOCmd(),
			intercomCmd(),
			svcChainCmd(),
		},
	}
}

func helloCmd() *cli.Command {
	return &cli.Command{
		Name:  "hello",
		Usage: "Hello-world: a single agent prints a greeting and a farewell",
		Flags: []cli.Flag{configFlag},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			rt := NewDemoRuntime(cfg, ProvideLogger(cfg))
			return hello.Run(c.Context, rt.Env, rt.OneThread)
		},
	}
}

func delayedHelloCmd() *cli.Command {
	return &cli.Command{
		Name:  "delayed-hello",
		Usage: "Delayed hello: start/hello/stop timestamps roughly 2s apart",
		Flags: []cli.Flag{configFlag},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			rt := NewDemoRuntime(cfg, ProvideLogger(cfg))
			return delayedhello.Run(c.Context, rt.Env, rt.OneThread)
		},
	}
}

func prioritySequenceCmd() *cli.Command {
	return &cli.Command{
		Name:  "priority-sequence",
		Usage: "Priority sequence: one agent walks eight chained priority levels and prints \"76543210\"",
		Flags: []cli.Flag{configFlag},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			rt := NewDemoRuntime(cfg, ProvideLogger(cfg))
			result, err := priority.Run(c.Context, rt.Env, rt.OneThread)
			if err != nil {
				return err
			}
			fmt.Println(result)
			return nil
		},
	}
}

func threadPoolFIFOCmd() *cli.Command {
	return &cli.Command{
		Name:  "threadpool-fifo",
		Usage: "Thread-pool cooperation-FIFO: two cooperations ping-pong under one pool",
		Flags: []cli.Flag{configFlag},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			rt := NewDemoRuntime(cfg, ProvideLogger(cfg))
			_, err = threadpoolfifo.Run(c.Context, rt.Env, rt.ThreadPool)
			return err
		},
	}
}

func intercomCmd() *cli.Command {
	return &cli.Command{
		Name:  "intercom",
		Usage: "Intercom state-chart: dial an apartment and wait out a no-answer timeout",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringFlag{Name: "digits", Value: "42", Usage: "Apartment digits to dial before the bell"},
			&cli.StringSliceFlag{Name: "apartment", Value: cli.NewStringSlice("42", "13"), Usage: "Known apartment numbers (repeatable)"},
			&cli.DurationFlag{Name: "no-answer-timeout", Value: 3 * time.Second, Usage: "How long dialling waits before giving up"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			rt := NewDemoRuntime(cfg, ProvideLogger(cfg))
			apartments := make(map[string]bool)
			for _, apt := range c.StringSlice("apartment") {
				apartments[strings.TrimSpace(apt)] = true
			}
			return intercom.Run(c.Context, rt.Env, rt.OneThread, apartments, c.String("digits"), c.Duration("no-answer-timeout"))
		},
	}
}

func svcChainCmd() *cli.Command {
	return &cli.Command{
		Name:  "svcchain",
		Usage: "Resending service-request chain: a synchronous request walks n forwarding agents",
		Flags: []cli.Flag{
			configFlag,
			&cli.IntFlag{Name: "n", Value: 5, Usage: "Number of agents in the chain"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			rt := NewDemoRuntime(cfg, ProvideLogger(cfg))
			counter, err := svcchain.Run(c.Context, rt.Env, rt.OneThread, c.Int("n"))
			if err != nil {
				return err
			}
			fmt.Printf("chain completed, counter = %d\n", counter)
			return nil
		},
	}
}
