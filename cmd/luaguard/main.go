// luaguard runs Lua scripts inside a sandbox that enforces a declarative
// policy, and checks and generates policy files.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/ZebulonRouseFrantzich/luaguard/internal/config"
	"github.com/ZebulonRouseFrantzich/luaguard/internal/interceptor"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0"

// Exit codes.
const (
	exitOK     = 0
	exitError  = 1
	exitDenied = 2
)

// Environment variables providing flag defaults.
const (
	envPolicy    = "LUAGUARD_POLICY"
	envModules   = "LUAGUARD_MODULES"
	envResources = "LUAGUARD_RESOURCES"
	envKeyring   = "LUAGUARD_KEYRING"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	err := dispatch(ctx, args, stdout, stderr)
	if err == nil {
		return exitOK
	}
	printError(stderr, err)
	return exitCode(err)
}

func dispatch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stdout)
		return nil
	}

	switch args[0] {
	case "--version", "version":
		fmt.Fprintf(stdout, "luaguard %s\n", Version)
		return nil
	case "-h", "--help", "help":
		printUsage(stdout)
		return nil
	case "run":
		return runScript(ctx, args[1:], stdout, stderr)
	case "check":
		return runCheck(ctx, args[1:], stdout, stderr)
	case "policy":
		if len(args) < 2 {
			return usageErrorf("policy subcommand requires an action (init)")
		}
		switch args[1] {
		case "init":
			return runPolicyInit(args[2:], stdout, stderr)
		default:
			return usageErrorf("unknown policy action: %s", args[1])
		}
	default:
		return usageErrorf("unknown command: %s", args[0])
	}
}

func exitCode(err error) int {
	if interceptor.IsDenied(err) {
		return exitDenied
	}
	return exitError
}

// usageError is a malformed command line.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func printError(w io.Writer, err error) {
	st := newStyles(w)

	var denial *interceptor.SecurityError
	var usage *usageError
	switch {
	case errors.As(err, &denial):
		fmt.Fprintf(w, "%s %s\n", st.denied.Render("denied:"), denial.Message)
		if denial.Trail != "" {
			fmt.Fprintln(w, st.dim.Render(denial.Trail))
		}
	case errors.As(err, &usage):
		fmt.Fprintf(w, "%s %s\n", st.err.Render("error:"), usage.msg)
		fmt.Fprintln(w, "Run 'luaguard --help' for usage.")
	default:
		fmt.Fprintf(w, "%s %s\n", st.err.Render("error:"), config.FormatError(err, false))
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `luaguard %s - run Lua scripts in a policy-enforced sandbox

Usage:
  luaguard run [options] <script.lua>   Run a script
  luaguard check [--strict] <policy>    Compile and lint a policy file
  luaguard policy init [options]        Write a starter policy file
  luaguard --version                    Show version information

Run options:
  --policy <file>       Policy file (.lua, .yaml, .yml, .json, .jsonc)  [$%s]
  --mode <mode>         sandbox, accept-all or reject-all (default sandbox)
  --modules <dir>       Directory searched by require                  [$%s]
  --keyring <file>      Require modules signed by a key in this keyring [$%s]
  --checksums <file>    Require modules listed in a sha256sum manifest
  --resources <dir>     Directory served by resource.load               [$%s]
  --log-level <level>   debug, info, warn or error (default warn)

Exit status is 2 when the sandbox denied an operation and 1 on other errors.
`, Version, envPolicy, envModules, envKeyring, envResources)
}
