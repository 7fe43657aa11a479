package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/config"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/engine"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/host"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/interceptor"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/logging"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/modules"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/platform"
)

// Interceptor modes accepted by --mode.
const (
	modeSandbox   = "sandbox"
	modeAcceptAll = "accept-all"
	modeRejectAll = "reject-all"
)

// execGrace is added to the policy's execution limit before the context is
// cancelled, so that the budget check reports the overrun first.
const execGrace = 500 * time.Millisecond

type runOptions struct {
	policyPath    string
	mode          string
	modulesDir    string
	keyringPath   string
	checksumsPath string
	resourcesDir  string
	logLevel      string
}

func (o *runOptions) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&o.policyPath, "policy", os.Getenv(envPolicy), "policy file")
	flagSet.StringVar(&o.mode, "mode", modeSandbox, "sandbox, accept-all or reject-all")
	flagSet.StringVar(&o.modulesDir, "modules", os.Getenv(envModules), "directory searched by require")
	flagSet.StringVar(&o.keyringPath, "keyring", os.Getenv(envKeyring), "OpenPGP keyring modules must be signed with")
	flagSet.StringVar(&o.checksumsPath, "checksums", "", "sha256sum manifest modules must be listed in")
	flagSet.StringVar(&o.resourcesDir, "resources", os.Getenv(envResources), "directory served by resource.load")
	flagSet.StringVar(&o.logLevel, "log-level", "warn", "debug, info, warn or error")
}

// runScript handles the `luaguard run` subcommand.
func runScript(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var opts runOptions
	flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	opts.addFlags(flagSet)

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usageErrorf("%v", err)
	}
	if flagSet.NArg() != 1 {
		return usageErrorf("run requires exactly one script")
	}
	script := flagSet.Arg(0)

	slogger, err := newLogger(stderr, opts.logLevel)
	if err != nil {
		return err
	}
	logger := logging.NewSlog(slogger)

	registry, err := newRegistry(ctx, opts.resourcesDir)
	if err != nil {
		return err
	}

	engineOpts := []engine.Option{engine.WithLogger(logger), engine.WithStdout(stdout)}
	if opts.modulesDir != "" {
		loader, err := newLoader(opts, logger)
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, engine.WithModules(loader))
	}

	// The sandbox deadline starts when the interceptor is built.
	ic, err := newInterceptor(ctx, opts, registry, logger)
	if err != nil {
		return err
	}

	if seconds, ok := ic.MaxExecSeconds(); ok && seconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(seconds)*time.Second+execGrace)
		defer cancel()
	}

	logger.Debug("running script", "script", script, "mode", opts.mode)
	result, err := engine.New(ic, engineOpts...).EvalFile(ctx, script)
	if err != nil {
		return err
	}
	if result != nil {
		fmt.Fprint(stdout, formatResult(result))
	}
	return nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, usageErrorf("invalid --log-level %q", level)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func newRegistry(ctx context.Context, resourcesDir string) (*host.Registry, error) {
	props, err := platform.DetectProperties(ctx, platform.NewDetector(), Version)
	if err != nil {
		return nil, fmt.Errorf("detect platform: %w", err)
	}

	opts := []host.Option{host.WithProperties(props)}
	if resourcesDir != "" {
		opts = append(opts, host.WithResources(os.DirFS(resourcesDir)))
	}

	registry := host.NewRegistry(opts...)
	if err := registerClasses(registry); err != nil {
		return nil, err
	}
	return registry, nil
}

func newLoader(opts runOptions, logger logging.Logger) (*modules.Loader, error) {
	loaderOpts := []modules.Option{modules.WithLogger(logger)}
	if opts.keyringPath != "" {
		keyring, err := modules.ReadKeyring(opts.keyringPath)
		if err != nil {
			return nil, err
		}
		loaderOpts = append(loaderOpts, modules.WithKeyring(keyring))
	}
	if opts.checksumsPath != "" {
		loaderOpts = append(loaderOpts, modules.WithChecksumFile(opts.checksumsPath))
	}
	return modules.NewLoader(opts.modulesDir, loaderOpts...)
}

func newInterceptor(ctx context.Context, opts runOptions, backend host.Backend, logger logging.Logger) (interceptor.Interceptor, error) {
	icOpts := []interceptor.Option{interceptor.WithLogger(logger)}

	switch opts.mode {
	case modeAcceptAll:
		logger.Warn("running without a sandbox", "mode", opts.mode)
		return interceptor.NewAcceptAll(backend, icOpts...), nil
	case modeRejectAll:
		return interceptor.NewRejectAll(backend, icOpts...), nil
	case modeSandbox:
	default:
		return nil, usageErrorf("unknown --mode %q", opts.mode)
	}

	pf := config.DefaultPolicyFile()
	if opts.policyPath != "" {
		var err error
		pf, err = config.NewParser(platform.NewDetector()).WithLogger(logger).ParseFile(ctx, opts.policyPath)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Info("no policy file given, using the default policy")
	}

	p, err := pf.Builder().Build()
	if err != nil {
		return nil, err
	}
	return interceptor.NewSandboxed(p, backend, icOpts...), nil
}

// formatResult renders a script's return value as YAML, falling back to Go
// syntax for values YAML cannot encode.
func formatResult(v any) (out string) {
	defer func() {
		if recover() != nil {
			out = fmt.Sprintf("%v\n", v)
		}
	}()
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v\n", v)
	}
	return string(b)
}
