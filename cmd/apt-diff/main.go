// Command apt-diff reconciles a Debian system's filesystem content
// against what dpkg believes is installed, reporting every path whose
// content no longer matches the package that owns it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/apt-diff/apt-diff/internal/aptdiff"
	"github.com/apt-diff/apt-diff/internal/config"
)

const version = "1.0.0"

// arrayFlags collects every occurrence of a repeatable flag, in order.
type arrayFlags []string

func (a *arrayFlags) String() string { return strings.Join(*a, ", ") }

func (a *arrayFlags) Set(value string) error {
	*a = append(*a, value)
	return nil
}

// kvFlags collects repeatable "-o Key=Value" style flags into a map, the
// same way apt itself takes -o options.
type kvFlags map[string]string

func (k *kvFlags) String() string {
	parts := make([]string, 0, len(*k))
	for key, val := range *k {
		parts = append(parts, fmt.Sprintf("%s=%s", key, val))
	}
	return strings.Join(parts, ", ")
}

func (k *kvFlags) Set(value string) error {
	parts := strings.SplitN(value, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid format %q, expected KEY=VALUE", value)
	}
	(*k)[parts[0]] = parts[1]
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr *os.File) int {
	fs := flag.NewFlagSet("apt-diff", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr) }

	var packages, paths arrayFlags
	fs.Var(&packages, "package", "Check only the files owned by this package (repeatable)")
	fs.Var(&packages, "p", "Shorthand for --package")

	fs.Var(&paths, "path", "Check every dpkg-tracked file under this path (repeatable)")
	fs.Var(&paths, "f", "Shorthand for --path")

	aptOptions := make(kvFlags)
	fs.Var(&aptOptions, "apt-option", "Pass -o Key=Value to apt-get (repeatable)")
	fs.Var(&aptOptions, "o", "Shorthand for --apt-option")

	ignoreConffiles := fs.Bool("ignore-conffiles", false, "Skip verifying configuration files")
	noIgnoreExtras := fs.Bool("no-ignore-extras", false, "Report untracked files instead of silently skipping them")
	noOverrideCache := fs.Bool("no-override-cache", false, "Use the system apt cache instead of a private one")
	reportUnverifiable := fs.Bool("report-unverifiable", false, "Report symlinks and directories dpkg can't verify")
	tempDir := fs.String("tempdir", "", "Directory to stage extracted archive content in")
	noRemoveExtracted := fs.Bool("no-remove-extracted", false, "Keep extracted archive content after the run")
	configPath := fs.String("config", "", "Path to a YAML configuration file")
	workers := fs.Int("workers", 0, "Number of concurrent hash verifier workers")
	showHelp := fs.Bool("help", false, "Show this help message")
	fs.BoolVar(showHelp, "h", false, "Shorthand for --help")
	showVersion := fs.Bool("version", false, "Show the version and exit")
	fs.BoolVar(showVersion, "V", false, "Shorthand for --version")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}

	if *showHelp {
		printUsage(stdout)
		return 0
	}
	if *showVersion {
		fmt.Fprintf(stdout, "apt-diff version %s\n", version)
		return 0
	}

	for _, a := range fs.Args() {
		switch {
		case strings.HasPrefix(a, "/"):
			paths = append(paths, a)
		case a != "" && isAlnum(a[0]):
			packages = append(packages, a)
		default:
			fmt.Fprintf(stderr, "apt-diff: cannot classify argument %q as a path or package\n", a)
			return 2
		}
	}

	if *configPath == "" {
		*configPath = defaultConfigPath()
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "apt-diff: %v\n", err)
		return 2
	}
	applyFlagOverrides(&cfg, fs, aptOptions, *ignoreConffiles, *noIgnoreExtras, *noOverrideCache,
		*reportUnverifiable, *tempDir, *noRemoveExtracted, *workers)

	app := &aptdiff.AptDiff{Config: cfg, Stdout: stdout, Stderr: stderr}
	for _, p := range paths {
		app.CheckPath(p)
	}
	for _, p := range packages {
		app.CheckPackage(p)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	summary, err := app.Execute(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 130
		}
		fmt.Fprintf(stderr, "apt-diff: %v\n", err)
		return 1
	}

	printSummary(stdout, summary, time.Since(start))
	return 0
}

// applyFlagOverrides layers explicitly-passed flags on top of whatever a
// config file loaded; flags the user never typed leave the config file's
// value untouched (flag.Visit only calls back for flags actually set).
func applyFlagOverrides(cfg *config.Config, fs *flag.FlagSet, aptOptions kvFlags,
	ignoreConffiles, noIgnoreExtras, noOverrideCache, reportUnverifiable bool,
	tempDir string, noRemoveExtracted bool, workers int) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if len(aptOptions) > 0 {
		if cfg.AptOptions == nil {
			cfg.AptOptions = make(map[string]string)
		}
		for k, v := range aptOptions {
			cfg.AptOptions[k] = v
		}
	}
	if set["ignore-conffiles"] {
		cfg.IgnoreConffiles = ignoreConffiles
	}
	if set["no-ignore-extras"] {
		cfg.NoIgnoreExtras = noIgnoreExtras
	}
	if set["no-override-cache"] {
		cfg.NoOverrideCache = noOverrideCache
	}
	if set["report-unverifiable"] {
		cfg.ReportUnverifiable = reportUnverifiable
	}
	if set["tempdir"] {
		cfg.TempDir = tempDir
	}
	if set["no-remove-extracted"] {
		cfg.KeepExtracted = noRemoveExtracted
	}
	if set["workers"] {
		cfg.Workers = workers
	}
}

func printSummary(out *os.File, s aptdiff.Summary, elapsed time.Duration) {
	fmt.Fprintf(out, "\nFound %d difference%s\n", s.Discrepancies, pluralS(s.Discrepancies))
	if s.Errors > 0 {
		fmt.Fprintf(out, "Encountered %d error%s\n", s.Errors, pluralS(s.Errors))
	}
	if s.IgnoredConffiles > 0 {
		fmt.Fprintf(out, "Ignored %d conffile%s\n", s.IgnoredConffiles, pluralS(s.IgnoredConffiles))
	}
	if s.IgnoredExtras > 0 {
		fmt.Fprintf(out, "Ignored %d extra path%s\n", s.IgnoredExtras, pluralS(s.IgnoredExtras))
	}
	if skipped := s.UnverifiableDirs + s.UnverifiableLinks; skipped > 0 {
		fmt.Fprintf(out, "Skipped %d unverifiable directories/symbolic links\n", skipped)
	}
	fmt.Fprintf(out, "Finished in %g seconds\n", elapsed.Seconds())
}

// defaultConfigPath returns $XDG_CONFIG_HOME/apt-diff/config.yaml (or its
// ~/.config fallback) if such a file exists, "" otherwise: the config
// file is entirely optional, and only an explicitly passed --config is an
// error when missing.
func defaultConfigPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	p := filepath.Join(base, "apt-diff", "config.yaml")
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

func pluralS(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func printUsage(w *os.File) {
	fmt.Fprintln(w, "Usage: apt-diff [flags] [package|/path ...]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Reconcile installed package content against what dpkg believes is installed.")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Positional arguments starting with '/' are treated as paths to scan;")
	fmt.Fprintln(w, "arguments starting with a letter or digit are treated as package names;")
	fmt.Fprintln(w, "anything else is rejected as a usage error.")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  --package, -p NAME       check only files owned by NAME (repeatable)")
	fmt.Fprintln(w, "  --path, -f PATH          check everything dpkg tracks under PATH (repeatable)")
	fmt.Fprintln(w, "  --apt-option, -o K=V     pass -o K=V to apt-get (repeatable)")
	fmt.Fprintln(w, "  --ignore-conffiles       skip verifying configuration files")
	fmt.Fprintln(w, "  --no-ignore-extras       report untracked files instead of skipping them")
	fmt.Fprintln(w, "  --no-override-cache      use the system apt cache instead of a private one")
	fmt.Fprintln(w, "  --report-unverifiable    report symlinks/directories dpkg can't verify")
	fmt.Fprintln(w, "  --tempdir DIR            stage extracted archive content under DIR")
	fmt.Fprintln(w, "  --no-remove-extracted    keep extracted archive content after the run")
	fmt.Fprintln(w, "  --workers N              number of concurrent hash verifier workers")
	fmt.Fprintln(w, "  --config PATH            load defaults from a YAML configuration file")
	fmt.Fprintln(w, "  --help, -h               show this message")
	fmt.Fprintln(w, "  --version, -V            show the version")
}
