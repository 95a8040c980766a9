package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dshills/lspadapter/internal/adapter"
	"github.com/dshills/lspadapter/internal/adapter/ruby"
	"github.com/dshills/lspadapter/internal/config"
	"github.com/dshills/lspadapter/internal/logging"
)

// globalOptions are the flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logJSON    bool
	trace      bool
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "lspadapter",
		Short:         "Query a repository through a language server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&opts.configPath, "config", "c", "", "path to the TOML configuration file")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error); overrides the config file")
	f.BoolVar(&opts.logJSON, "log-json", false, "write logs as JSON")
	f.BoolVar(&opts.trace, "trace", false, "log every JSON-RPC message (needs --log-level trace)")

	cmd.AddCommand(
		newBootstrapCmd(opts),
		newQueryCmd(opts, referencesQuery),
		newQueryCmd(opts, definitionQuery),
		newLanguagesCmd(),
		newVersionCmd(),
	)
	return cmd
}

// languages returns every built-in adapter.
func languages() *adapter.Registry {
	return adapter.NewRegistry(ruby.Definition())
}

// load reads the configuration and builds the logger.
func (o *globalOptions) load() (config.Config, logrus.FieldLogger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, nil, err
	}

	level := cfg.LogLevel
	if o.logLevel != "" {
		level = o.logLevel
	}
	log := logging.New(logging.Config{Level: level, JSON: o.logJSON})
	return cfg, log, nil
}

// newAdapter builds the adapter for language, or for the file at relPath
// when language is empty.
func (o *globalOptions) newAdapter(language, relPath string) (*adapter.Adapter, config.Config, error) {
	cfg, log, err := o.load()
	if err != nil {
		return nil, cfg, err
	}

	reg := languages()
	var def adapter.Definition
	switch {
	case language != "":
		def, err = reg.Get(language)
	case relPath != "":
		def, err = reg.ForFile(relPath)
	default:
		err = fmt.Errorf("--language is required")
	}
	if err != nil {
		return nil, cfg, err
	}

	a, err := adapter.New(def, cfg, adapter.WithLogger(log), adapter.WithMessageTrace(o.trace))
	if err != nil {
		return nil, cfg, err
	}
	return a, cfg, nil
}
