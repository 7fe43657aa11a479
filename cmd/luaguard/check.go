package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/config"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/platform"
)

// errLintFailed is returned by check --strict when a warning was reported.
var errLintFailed = errors.New("policy has lint warnings")

// runCheck handles the `luaguard check` subcommand: the policy file is
// parsed, every rule is compiled, and the rules are linted.
func runCheck(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var strict bool
	flagSet := pflag.NewFlagSet("check", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.BoolVar(&strict, "strict", false, "fail when a lint warning is reported")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return usageErrorf("%v", err)
	}
	if flagSet.NArg() != 1 {
		return usageErrorf("check requires exactly one policy file")
	}
	path := flagSet.Arg(0)

	pf, err := config.NewParser(platform.NewDetector()).ParseFile(ctx, path)
	if err != nil {
		return err
	}
	p, err := pf.Builder().Build()
	if err != nil {
		return err
	}

	st := newStyles(stdout)
	findings := config.Lint(p.Rules())
	warnings := 0
	for _, f := range findings {
		if f.Severity == config.SeverityWarning {
			warnings++
		}
	}

	if len(findings) > 0 {
		fmt.Fprintln(stdout, lintReport(st, findings))
	}

	summary := fmt.Sprintf("%s: %d rules, %d presets", path, len(p.Rules()), len(pf.Presets))
	if seconds, ok := p.MaxExecSeconds(); ok {
		summary += fmt.Sprintf(", max_exec_time=%ds", seconds)
	}
	if size, ok := p.MaxCallbackPoolSize(); ok {
		summary += fmt.Sprintf(", max_callback_pool_size=%d", size)
	}

	if strict && warnings > 0 {
		fmt.Fprintf(stdout, "%s %s\n", st.err.Render("FAIL"), summary)
		return errLintFailed
	}
	fmt.Fprintf(stdout, "%s %s\n", st.ok.Render("OK"), summary)
	return nil
}

func lintReport(st styles, findings []config.Finding) string {
	styled := make([]config.Finding, len(findings))
	for i, f := range findings {
		styled[i] = f
		if f.Severity == config.SeverityWarning {
			styled[i].Rule = st.warning.Render(f.Rule)
		} else {
			styled[i].Rule = st.notice.Render(f.Rule)
		}
	}
	return config.FormatFindings(styled)
}
