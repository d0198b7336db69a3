// Package cmd implements the vmsim subcommands.
package cmd

import (
	"flag"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"kestrel/kernel/mm"
	"kestrel/tools/vmsim/config"
	"kestrel/tools/vmsim/machine"
)

// Globals holds the flags shared by every subcommand.
type Globals struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string

	// Out receives command output. Defaults to os.Stdout.
	Out io.Writer
}

// Register adds the global flags to fs.
func (g *Globals) Register(fs *flag.FlagSet) {
	fs.StringVar(&g.ConfigPath, "config", "", "path to a TOML machine description; the built-in machine is used if empty")
	fs.StringVar(&g.LogLevel, "log-level", "info", "log level: trace, debug, info, warn or error")
	fs.StringVar(&g.LogFormat, "log-format", "text", "log format: text or json")
}

func (g *Globals) out() io.Writer {
	if g.Out == nil {
		return os.Stdout
	}
	return g.Out
}

func (g *Globals) logger() (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(g.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "parsing -log-level")
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(level)
	switch g.LogFormat {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errors.Errorf("unknown -log-format %q", g.LogFormat)
	}
	return logrus.NewEntry(logger).WithField("component", "vmsim"), nil
}

func (g *Globals) config() (*config.Config, error) {
	if g.ConfigPath == "" {
		return config.Default(), nil
	}
	return config.Load(g.ConfigPath)
}

// boot loads the configuration and boots a machine from it. The caller must
// close the machine.
func (g *Globals) boot() (*machine.Machine, *config.Config, error) {
	cfg, err := g.config()
	if err != nil {
		return nil, nil, err
	}
	log, err := g.logger()
	if err != nil {
		return nil, nil, err
	}

	m, err := machine.Boot(cfg, log)
	if err != nil {
		return nil, nil, errors.Wrap(err, "booting machine")
	}
	return m, cfg, nil
}

func parseVirtAddr(s string) (mm.VirtAddr, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing address %q", s)
	}
	addr, kerr := mm.NewVirtAddr(v)
	if kerr != nil {
		return 0, errors.Wrapf(kerr, "parsing address %q", s)
	}
	return addr, nil
}
