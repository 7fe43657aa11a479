package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/config"
)

// runPolicyInit handles `luaguard policy init`, which writes the default
// policy as a starting point.
func runPolicyInit(args []string, stdout, stderr io.Writer) error {
	var (
		out    string
		format string
		force  bool
	)
	flagSet := pflag.NewFlagSet("policy init", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&out, "out", "o", "", "file to write (default stdout)")
	flagSet.StringVar(&format, "format", "", "lua or yaml (default from --out, else lua)")
	flagSet.BoolVar(&force, "force", false, "overwrite an existing file")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usageErrorf("%v", err)
	}
	if flagSet.NArg() != 0 {
		return usageErrorf("policy init takes no arguments")
	}

	f, err := initFormat(format, out)
	if err != nil {
		return err
	}

	gen := config.NewGenerator()
	var content string
	switch f {
	case config.FormatYAML:
		content, err = gen.GenerateYAML(config.DefaultPolicyFile())
	default:
		content, err = gen.Generate(config.DefaultPolicyFile())
	}
	if err != nil {
		return fmt.Errorf("generate policy: %w", err)
	}

	if out == "" {
		_, err = io.WriteString(stdout, content)
		return err
	}

	if err := config.WritePolicyFile(out, content, force); err != nil {
		if errors.Is(err, config.ErrPolicyExists) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", out)
		}
		return err
	}

	st := newStyles(stdout)
	fmt.Fprintf(stdout, "%s wrote %s\n", st.ok.Render("✓"), out)
	return nil
}

// initFormat picks the output format. JSON output is not generated; a
// .json path is rejected rather than silently written as Lua.
func initFormat(flag, out string) (config.Format, error) {
	switch flag {
	case "lua":
		return config.FormatLua, nil
	case "yaml", "yml":
		return config.FormatYAML, nil
	case "":
	default:
		return "", usageErrorf("unsupported --format %q (want lua or yaml)", flag)
	}

	if out == "" {
		return config.FormatLua, nil
	}
	f, err := config.FormatFromPath(out)
	if err != nil {
		return "", usageErrorf("%v", err)
	}
	if f == config.FormatJSON {
		return "", usageErrorf("policy init cannot write JSON; use a .lua or .yaml file")
	}
	return f, nil
}
