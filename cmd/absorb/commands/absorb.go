// Package commands implements CLI command handlers for absorb.
package commands

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/absorb/internal/observability"
	"github.com/Sumatoshi-tech/absorb/pkg/config"
	"github.com/Sumatoshi-tech/absorb/pkg/fixup"
	"github.com/Sumatoshi-tech/absorb/pkg/gitlib"
	"github.com/Sumatoshi-tech/absorb/pkg/overlay"
	"github.com/Sumatoshi-tech/absorb/pkg/report"
	"github.com/Sumatoshi-tech/absorb/pkg/stack"
	"github.com/Sumatoshi-tech/absorb/pkg/textdiff"
	"github.com/Sumatoshi-tech/absorb/pkg/version"
)

// Output formats.
const (
	OutputText = "text"
	OutputYAML = "yaml"
)

var (
	// ErrCancelled is returned when changes were not confirmed.
	ErrCancelled = errors.New("absorb cancelled")
	// ErrInvalidOutput indicates an unknown --output value.
	ErrInvalidOutput = errors.New("invalid output format")
	// ErrConflictingFlags indicates mutually exclusive flags were combined.
	ErrConflictingFlags = errors.New("conflicting flags")
	// ErrOutsideRepository is returned for a PATH argument outside the working directory.
	ErrOutsideRepository = errors.New("path is outside the repository")
)

type observabilityInit func(observability.Config) (observability.Providers, error)

// AbsorbCommand holds the flags and dependencies of the absorb command.
type AbsorbCommand struct {
	applyChanges bool
	printChanges bool
	dryRun       bool
	base         string
	patchPath    string
	configPath   string
	output       string
	dir          string
	verbose      bool
	quiet        bool

	initObservability observabilityInit
	terminal          func(f *os.File) bool
}

// NewAbsorbCommand creates the root absorb command.
func NewAbsorbCommand() *cobra.Command {
	return newAbsorbCommandWithDeps(observability.Init, isTerminal)
}

func newAbsorbCommandWithDeps(initObs observabilityInit, terminal func(*os.File) bool) *cobra.Command {
	ac := &AbsorbCommand{
		output:            OutputText,
		initObservability: initObs,
		terminal:          terminal,
	}

	cmd := &cobra.Command{
		Use:   "absorb [PATH...]",
		Short: "Absorb working copy changes into the commits that introduced the lines",
		Long: `Absorb moves each uncommitted change into the commit of the current stack
that last touched the surrounding lines, rewriting the stack in place.

Changes that cannot be attributed unambiguously stay in the working copy.
PATH arguments restrict absorption to files under those paths and are
relative to the current directory.`,
		Args:          cobra.ArbitraryArgs,
		RunE:          ac.run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().BoolVarP(&ac.applyChanges, "apply-changes", "a", false, "Apply changes without prompting")
	cmd.Flags().BoolVarP(&ac.printChanges, "print-changes", "p", false, "Print which commit each line is absorbed into")
	cmd.Flags().BoolVarP(&ac.dryRun, "dry-run", "n", false, "Compute fixups without rewriting history")
	cmd.Flags().StringVar(&ac.base, "base", "", "Immutable parent of the stack (default: upstream merge base)")
	cmd.Flags().StringVar(&ac.patchPath, "patch", "", "Absorb a unified diff instead of the working copy")
	cmd.Flags().StringVar(&ac.configPath, "config", "", "Configuration file (default: absorb.yaml search path)")
	cmd.Flags().StringVarP(&ac.output, "output", "o", OutputText, "Output format: text, yaml")
	cmd.Flags().BoolVarP(&ac.verbose, "verbose", "v", false, "Verbose output")
	cmd.Flags().BoolVarP(&ac.quiet, "quiet", "q", false, "Suppress output")
	cmd.Flags().StringVarP(&ac.dir, "directory", "C", ".", "Run as if started in this directory")

	cmd.AddCommand(versionCmd())

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "absorb %s\n", version.String())
		},
	}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (ac *AbsorbCommand) validate() error {
	if ac.output != OutputText && ac.output != OutputYAML {
		return fmt.Errorf("%w: %q", ErrInvalidOutput, ac.output)
	}

	if ac.verbose && ac.quiet {
		return fmt.Errorf("%w: --verbose and --quiet", ErrConflictingFlags)
	}

	if ac.dryRun && ac.applyChanges {
		return fmt.Errorf("%w: --dry-run and --apply-changes", ErrConflictingFlags)
	}

	return nil
}

func (ac *AbsorbCommand) observabilityConfig(cfg *config.Config) (observability.Config, error) {
	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	obsCfg.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	obsCfg.MetricsTextfile = cfg.Telemetry.MetricsTextfile
	obsCfg.LogJSON = cfg.Logging.Format == "json"

	if ac.dryRun {
		obsCfg.Mode = observability.ModeDryRun
	}

	level, err := observability.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return obsCfg, err
	}

	switch {
	case ac.verbose:
		level = slog.LevelDebug
	case ac.quiet:
		level = slog.LevelError
	}

	obsCfg.LogLevel = level

	return obsCfg, nil
}

func (ac *AbsorbCommand) run(cmd *cobra.Command, args []string) (runErr error) {
	err := ac.validate()
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(ac.resolve(ac.configPath), ac.dir)
	if err != nil {
		return err
	}

	obsCfg, err := ac.observabilityConfig(cfg)
	if err != nil {
		return err
	}

	providers, err := ac.initObservability(obsCfg)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer func() {
		runErr = errors.Join(runErr, providers.Shutdown(context.Background()))
	}()

	metrics, err := observability.NewAbsorbMetrics(providers.Meter)
	if err != nil {
		return err
	}

	ctx, span := providers.Tracer.Start(cmd.Context(), "absorb.run",
		trace.WithAttributes(attribute.Bool("absorb.dry_run", ac.dryRun)))
	defer span.End()

	started := time.Now()

	stats, err := ac.absorb(ctx, cmd, args, cfg, providers)

	stats.Duration = time.Since(started)
	stats.Failed = err != nil && !errors.Is(err, ErrCancelled)
	metrics.RecordRun(ctx, stats)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

func (ac *AbsorbCommand) absorb(
	ctx context.Context,
	cmd *cobra.Command,
	args []string,
	cfg *config.Config,
	providers observability.Providers,
) (observability.RunStats, error) {
	var stats observability.RunStats

	logger := providers.Logger

	repo, err := gitlib.DiscoverRepository(ac.dir)
	if err != nil {
		return stats, fmt.Errorf("open repository: %w", err)
	}
	defer repo.Free()

	stk, err := gitlib.LoadStack(ctx, repo, gitlib.StackOptions{
		Base:  ac.base,
		Limit: cfg.Absorb.MaxStackSize,
	})
	if err != nil {
		return stats, err
	}
	defer stk.Free()

	if stk.Truncated {
		logger.WarnContext(ctx, "stack truncated, older commits are treated as immutable",
			"limit", cfg.Absorb.MaxStackSize, "base", stk.Base.ID())
	}

	target, err := ac.target(ctx, repo, stk, logger)
	if err != nil {
		return stats, err
	}

	paths, err := repoPaths(repo, ac.dir, args)
	if err != nil {
		return stats, err
	}

	opts, err := ac.stateOptions(cfg, logger, paths)
	if err != nil {
		return stats, err
	}

	var events []fixup.ChunkEvent

	opts = append(opts, stack.WithReporter(fixup.ReporterFunc(func(event fixup.ChunkEvent) {
		events = append(events, event)
	})))

	state, err := stack.New(stk.Base, stk.Revisions(), opts...)
	if err != nil {
		return stats, err
	}

	diffCtx, diffSpan := providers.Tracer.Start(ctx, "absorb.diff")
	err = state.DiffWith(diffCtx, target)
	diffSpan.End()

	if err != nil {
		return stats, err
	}

	chunks := state.ChunkStats()
	stats.Files = len(state.Paths())
	stats.Chunks = chunks.Total
	stats.Adopted = chunks.Adopted
	stats.Skipped = skippedByReason(state.Skipped())

	out := cmd.OutOrStdout()
	printer := report.NewPrinter(ac.textWriter(out), ac.colored(out))

	if ac.verbose {
		printer.Skipped(state.Skipped())
	}

	prompt := !ac.applyChanges && !ac.dryRun && chunks.Adopted > 0

	if ac.printChanges || (prompt && !ac.quiet) {
		printer.Changes(events, state)
		printer.Affected(state.Affected())
	}

	if prompt {
		err = ac.confirm(cmd)
		if err != nil {
			return stats, err
		}
	}

	err = state.Apply()
	if err != nil {
		return stats, err
	}

	result, err := ac.commit(ctx, state, repo, cfg, logger, providers.Tracer)
	if err != nil {
		return stats, err
	}

	stats.Rewritten = result.Rewritten
	stats.Dropped = result.Dropped

	return stats, ac.writeResult(out, printer, state, result)
}

func (ac *AbsorbCommand) target(
	ctx context.Context,
	repo *gitlib.Repository,
	stk *gitlib.Stack,
	logger *slog.Logger,
) (stack.Snapshot, error) {
	if ac.patchPath == "" {
		return gitlib.NewWorktree(repo)
	}

	patch, err := os.ReadFile(ac.resolve(ac.patchPath))
	if err != nil {
		return nil, fmt.Errorf("read patch %s: %w", ac.patchPath, err)
	}

	snapshot, err := overlay.FromPatch(stk.Top(), patch)
	if err != nil {
		return nil, err
	}

	logger.DebugContext(ctx, "patch loaded", "path", ac.patchPath, "files", snapshot.Patched())

	return snapshot, nil
}

func (ac *AbsorbCommand) stateOptions(cfg *config.Config, logger *slog.Logger, paths []string) ([]stack.Option, error) {
	maxFileSize, err := cfg.Absorb.MaxFileSizeBytes()
	if err != nil {
		return nil, err
	}

	opts := []stack.Option{
		stack.WithLogger(logger),
		stack.WithDiffer(textdiff.NewDiffer(textdiff.WithTimeout(cfg.Diff.Timeout))),
		stack.WithWorkers(cfg.Absorb.Workers),
		stack.WithSkipEmpty(cfg.Absorb.SkipEmpty),
		stack.WithMaxFileSize(maxFileSize),
	}

	if filter := PathPrefixFilter(paths); filter != nil {
		opts = append(opts, stack.WithPathFilter(filter))
	}

	return opts, nil
}

func (ac *AbsorbCommand) commit(
	ctx context.Context,
	state *stack.State,
	repo *gitlib.Repository,
	cfg *config.Config,
	logger *slog.Logger,
	tracer trace.Tracer,
) (stack.Result, error) {
	ctx, span := tracer.Start(ctx, "absorb.commit")
	defer span.End()

	if ac.dryRun {
		memory := stack.NewMemoryRewriter()

		result, err := state.Commit(ctx, memory)
		if err != nil {
			return result, err
		}

		logger.DebugContext(ctx, "dry run, history left unchanged", "would_create", len(memory.Created()))

		return result, nil
	}

	rw := gitlib.NewRewriter(repo,
		gitlib.WithProvenance(cfg.Absorb.AddProvenance),
		gitlib.WithRewriterLogger(logger))

	result, err := state.Commit(ctx, rw)
	if err != nil {
		return result, err
	}

	if !result.Changed() {
		return result, nil
	}

	err = rw.MoveHead(ctx, result.NewHead)
	if err != nil {
		return result, err
	}

	if ac.patchPath != "" {
		err = syncPatchedPaths(ctx, repo, rw, state, logger)
		if err != nil {
			return result, err
		}
	}

	logger.InfoContext(ctx, "stack rewritten",
		"head", result.NewHead,
		"rewritten", result.Rewritten,
		"dropped", result.Dropped)

	return result, nil
}

// syncPatchedPaths brings absorbed paths of the working copy up to date with
// the rewritten stack top when they still hold the content of the old top.
// Paths with local edits are left alone.
func syncPatchedPaths(ctx context.Context, repo *gitlib.Repository, rw *gitlib.Rewriter, state *stack.State, logger *slog.Logger) error {
	worktree, err := gitlib.NewWorktree(repo)
	if err != nil {
		return err
	}

	revs := state.Revisions()
	top := revs[len(revs)-1]

	var paths []string

	for _, name := range state.Paths() {
		fs, _ := state.FileState(name)
		before, _ := top.File(name)
		current, ok := worktree.File(name)

		switch {
		case ok && current.Equal(before):
			paths = append(paths, name)
		case ok && bytes.Equal(current.Content, fs.FinalContent(fs.Len()-1)):
			// Already up to date.
		default:
			logger.WarnContext(ctx, "working copy has local edits, absorbed changes not checked out", "path", name)
		}
	}

	return rw.CheckoutPaths(ctx, paths)
}

func (ac *AbsorbCommand) writeResult(out io.Writer, printer *report.Printer, state *stack.State, result stack.Result) error {
	if ac.output == OutputYAML {
		r := report.Build(state, result)
		r.DryRun = ac.dryRun

		return report.WriteYAML(out, r)
	}

	if ac.verbose {
		printer.Table(report.Build(state, result).Paths)
	}

	printer.Result(state.ChunkStats())

	return nil
}

// confirm asks on stdin whether the changes should be applied. Without a
// terminal there is nobody to ask.
func (ac *AbsorbCommand) confirm(cmd *cobra.Command) error {
	if !ac.terminal(os.Stdin) {
		return ErrCancelled
	}

	fmt.Fprint(cmd.ErrOrStderr(), "apply changes (y/N)? ")

	answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	default:
		return ErrCancelled
	}
}

// textWriter is where human readable output goes. YAML output and --quiet
// keep it off stdout.
func (ac *AbsorbCommand) textWriter(out io.Writer) io.Writer {
	if ac.quiet || ac.output == OutputYAML {
		return io.Discard
	}

	return out
}

func (ac *AbsorbCommand) colored(out io.Writer) bool {
	f, ok := out.(*os.File)

	return ok && ac.terminal(f)
}

// resolve interprets a relative file flag against the -C directory.
func (ac *AbsorbCommand) resolve(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}

	return filepath.Join(ac.dir, name)
}

// repoPaths turns PATH arguments, relative to dir, into slash separated paths
// relative to the working directory root of repo.
func repoPaths(repo *gitlib.Repository, dir string, args []string) ([]string, error) {
	if len(args) == 0 {
		return nil, nil
	}

	workdir, err := repo.Workdir()
	if err != nil {
		return nil, err
	}

	root := canonicalPath(workdir)
	base := canonicalPath(dir)
	paths := make([]string, 0, len(args))

	for _, arg := range args {
		full := arg
		if !filepath.IsAbs(full) {
			full = filepath.Join(base, arg)
		}

		rel, relErr := filepath.Rel(root, canonicalPath(full))
		if relErr != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("%w: %s", ErrOutsideRepository, arg)
		}

		paths = append(paths, filepath.ToSlash(rel))
	}

	return paths, nil
}

// canonicalPath returns the absolute form of name with symlinks resolved
// when it exists.
func canonicalPath(name string) string {
	abs, err := filepath.Abs(name)
	if err != nil {
		return filepath.Clean(name)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return abs
	}

	return resolved
}

func skippedByReason(skipped []stack.Skipped) map[string]int {
	if len(skipped) == 0 {
		return nil
	}

	counts := make(map[string]int)
	for _, s := range skipped {
		counts[string(s.Reason)]++
	}

	return counts
}

// PathPrefixFilter accepts repository paths equal to or below one of
// prefixes. It returns nil when prefixes select the whole repository.
func PathPrefixFilter(prefixes []string) stack.PathFilter {
	var cleaned []string

	for _, prefix := range prefixes {
		p := path.Clean(filepath.ToSlash(prefix))
		if p == "." || p == "/" {
			return nil
		}

		cleaned = append(cleaned, strings.TrimPrefix(p, "./"))
	}

	if len(cleaned) == 0 {
		return nil
	}

	return func(name string) bool {
		for _, p := range cleaned {
			if name == p || strings.HasPrefix(name, p+"/") {
				return true
			}
		}

		return false
	}
}
