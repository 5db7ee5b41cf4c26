package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/v2rayroot/v2root-go/internal/config"
	"github.com/v2rayroot/v2root-go/internal/engine"
	"github.com/v2rayroot/v2root-go/internal/link"
	"github.com/v2rayroot/v2root-go/internal/model"
	"github.com/v2rayroot/v2root-go/internal/probe"
	"github.com/v2rayroot/v2root-go/internal/subscription"
	"github.com/v2rayroot/v2root-go/internal/supervisor"
	"github.com/v2rayroot/v2root-go/internal/tester"
)

const usage = `usage: v2rootctl [-settings FILE] <command> [args]

commands:
  parse  <link>              parse a configuration string and print the descriptor
  config [-o FILE] <link>    build an engine config for a configuration string
  ping   <host> <port>       measure DNS plus TCP connect latency
  probe  <link>              quick reachability probe (no engine)
  test   [-system-proxy] <link>  full end-to-end test through the engine
  sub    [-workers N] <url>  fetch a subscription and rank its servers
`

func main() {
	settingsPath := flag.String("settings", "v2root.yaml", "settings file path")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*settingsPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "v2rootctl: %v\n", err)
		exitWith(err)
	}
	log := setupLog(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if err := run(ctx, cmd, args, cfg, log); err != nil {
		code := model.BoundaryCode(err)
		fmt.Fprintf(os.Stderr, "v2rootctl: %v\n%s\n", err, model.Explain(code))
		log.WithError(err).WithField("code", code).Error("command failed")
		exitWith(err)
	}
}

func run(ctx context.Context, cmd string, args []string, cfg config.Config, log *logrus.Entry) error {
	switch cmd {
	case "parse":
		return cmdParse(args)
	case "config":
		return cmdConfig(args, cfg)
	case "ping":
		return cmdPing(ctx, args, cfg, log)
	case "probe":
		return cmdProbe(ctx, args, cfg, log)
	case "test":
		return cmdTest(ctx, args, cfg, log)
	case "sub":
		return cmdSub(ctx, args, cfg, log)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdParse(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("parse: expected exactly one configuration string")
	}
	desc, err := link.Parse(args[0])
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, desc)
}

func cmdConfig(args []string, cfg config.Config) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	out := fs.String("o", "", "output file (default stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("config: expected exactly one configuration string")
	}
	desc, err := link.Parse(fs.Arg(0))
	if err != nil {
		return err
	}
	doc, err := engine.Build(&desc, cfg.HTTPPort, cfg.SOCKSPort)
	if err != nil {
		return err
	}
	if *out == "" {
		return doc.Write(os.Stdout)
	}
	return doc.WriteFile(*out)
}

func cmdPing(ctx context.Context, args []string, cfg config.Config, log *logrus.Entry) error {
	if len(args) != 2 {
		return fmt.Errorf("ping: expected host and port")
	}
	port, err := strconv.Atoi(args[1])
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("ping: invalid port %q", args[1])
	}
	ms, err := newProber(cfg, log).Ping(ctx, args[0], port)
	if err != nil {
		return err
	}
	fmt.Printf("%d ms\n", ms)
	return nil
}

func cmdProbe(ctx context.Context, args []string, cfg config.Config, log *logrus.Entry) error {
	if len(args) != 1 {
		return fmt.Errorf("probe: expected exactly one configuration string")
	}
	desc, err := link.Parse(args[0])
	if err != nil {
		return err
	}
	res := newProber(cfg, log).Quick(ctx, &desc)
	return printJSON(os.Stdout, res)
}

func cmdTest(ctx context.Context, args []string, cfg config.Config, log *logrus.Entry) error {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	sysProxy := fs.Bool("system-proxy", false, "export proxy environment variables while the engine runs")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("test: expected exactly one configuration string")
	}
	if *sysProxy {
		var toggle supervisor.EnvProxyToggle
		if err := toggle.Enable(cfg.HTTPPort, cfg.SOCKSPort); err != nil {
			return err
		}
		defer func() {
			if err := toggle.Disable(); err != nil {
				log.WithError(err).Warn("proxy environment not restored")
			}
		}()
	}
	session := &tester.Session{
		Supervisor: &supervisor.ExecSupervisor{
			Binary:    cfg.Engine,
			ReadyAddr: fmt.Sprintf("127.0.0.1:%d", cfg.HTTPPort),
			Log:       log,
		},
		Prober:    newProber(cfg, log),
		HTTPPort:  cfg.HTTPPort,
		SOCKSPort: cfg.SOCKSPort,
		Attempts:  cfg.Probe.Attempts,
		Log:       log,
	}
	ttfb, err := session.Test(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("%d ms\n", ttfb)
	return nil
}

func cmdSub(ctx context.Context, args []string, cfg config.Config, log *logrus.Entry) error {
	fs := flag.NewFlagSet("sub", flag.ContinueOnError)
	workers := fs.Int("workers", 4, "concurrent probes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("sub: expected exactly one subscription URL")
	}
	doc, err := subscription.Fetch(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	descs, skipped := subscription.Decode(doc)
	for _, s := range skipped {
		log.WithFields(logrus.Fields{"line": s.Line, "error": s.Err}).Warn("subscription line skipped")
	}
	if len(descs) == 0 {
		return fmt.Errorf("sub: no usable servers in subscription")
	}
	ranked := subscription.Rank(ctx, newProber(cfg, log), descs, *workers, log)
	for _, r := range ranked {
		status := fmt.Sprintf("%4d ms  score %.3f", r.Result.TotalMs, r.Result.Score)
		if !r.Result.Success {
			status = string(r.Result.ErrorKind)
		}
		name := r.Desc.DisplayName
		if name == "" {
			name = fmt.Sprintf("%s:%d", r.Desc.Address, r.Desc.Port)
		}
		fmt.Printf("%-40s %s\n", name, status)
	}
	return nil
}

func newProber(cfg config.Config, log *logrus.Entry) *probe.Engine {
	return &probe.Engine{
		TCPTimeout:     time.Duration(cfg.Probe.TCPTimeoutMs) * time.Millisecond,
		TTFBTimeout:    time.Duration(cfg.Probe.TTFBTimeoutMs) * time.Millisecond,
		Endpoints:      cfg.Probe.Endpoints,
		LocalHTTPPort:  cfg.HTTPPort,
		LocalSOCKSPort: cfg.SOCKSPort,
		Log:            log,
	}
}

func setupLog(cfg config.Config) *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			logger.SetOutput(f)
		} else {
			fmt.Fprintf(os.Stderr, "v2rootctl: log file unavailable, using stderr: %v\n", err)
		}
	}
	return logrus.NewEntry(logger)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitWith maps an error onto the process exit status. Boundary codes are
// negative; shells see their absolute value.
func exitWith(err error) {
	code := model.BoundaryCode(err)
	if code == model.CodeOK {
		os.Exit(1)
	}
	os.Exit(-code)
}
