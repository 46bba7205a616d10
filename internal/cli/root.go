// Package cli implements the regenerate command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"coursesearch/internal/providers"
	"coursesearch/internal/regen"
	"coursesearch/internal/util"
)

const (
	ExitOK     = 0
	ExitFailed = 1
	ExitConfig = 2
)

// ErrUsage marks invalid flag combinations.
var ErrUsage = errors.New("invalid usage")

type Runner interface {
	RegenerateCourse(ctx context.Context, courseID string) (regen.CourseResult, error)
	RegenerateAll(ctx context.Context) (regen.BatchResult, error)
	Prune(ctx context.Context, days int) (int, error)
}

type ContentSource interface {
	AggregateFull(ctx context.Context, courseID string) (string, error)
}

// Env is what a run needs once configuration has been resolved.
type Env struct {
	Runner  Runner
	Content ContentSource
	Close   func()
}

type BuildOptions struct {
	// ConfigFile is an optional YAML file layered under the environment.
	ConfigFile string
	Verbose    bool
}

// BuildFunc resolves configuration and connects the pipeline.
type BuildFunc func(ctx context.Context, opts BuildOptions) (*Env, error)

type options struct {
	course     string
	all        bool
	pruneDays  int
	summaryOut string
	contentOut string
	configFile string
	verbose    bool
}

// exitError carries the process exit code chosen for a failed run.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func NewRootCommand(build BuildFunc) *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "regenerate",
		Short: "Rebuild course embeddings",
		Long: `Aggregates course content, chunks and embeds it, and replaces the stored
vectors of one course (--course) or of every course (--all).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: unexpected arguments %v", ErrUsage, args)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, build, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.course, "course", "", "regenerate a single course by id")
	f.BoolVar(&opts.all, "all", false, "regenerate every course")
	f.IntVar(&opts.pruneDays, "prune-days", 0, "after regenerating, remove vectors older than N days")
	f.StringVar(&opts.summaryOut, "summary-out", "", "write the run summary as JSON to this file")
	f.StringVar(&opts.contentOut, "content-out", "", "write the aggregated course markdown to this file (with --course)")
	f.StringVar(&opts.configFile, "config", "", "YAML config file (env vars still override it)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	})
	return cmd
}

func validate(opts options) error {
	switch {
	case opts.course == "" && !opts.all:
		return fmt.Errorf("%w: one of --course or --all is required", ErrUsage)
	case opts.course != "" && opts.all:
		return fmt.Errorf("%w: --course and --all are mutually exclusive", ErrUsage)
	case opts.pruneDays < 0:
		return fmt.Errorf("%w: --prune-days must not be negative", ErrUsage)
	case opts.contentOut != "" && opts.all:
		return fmt.Errorf("%w: --content-out requires --course", ErrUsage)
	}
	return nil
}

func run(cmd *cobra.Command, build BuildFunc, opts options) error {
	if err := validate(opts); err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := build(ctx, BuildOptions{ConfigFile: opts.configFile, Verbose: opts.verbose})
	if err != nil {
		if errors.Is(err, providers.ErrMissingCredentials) || errors.Is(err, util.ErrValidation) {
			return &exitError{code: ExitConfig, err: err}
		}
		return fmt.Errorf("startup: %w", err)
	}
	if env.Close != nil {
		defer env.Close()
	}

	var failed bool
	var summary any
	if opts.course != "" {
		cmd.Printf("Regenerating course %s...\n", opts.course)
		res, err := env.Runner.RegenerateCourse(ctx, opts.course)
		if err != nil {
			return fmt.Errorf("course %s: %w", opts.course, err)
		}
		cmd.Printf("Course %s: %d sections, %d skipped, %d chunks saved, %d replaced, ~%d tokens ($%.4f) in %s\n",
			res.CourseID, res.Sections, res.Skipped, res.Saved, res.Deleted,
			res.Stats.TotalTokens, res.Stats.EstimatedCostUSD, res.Duration.Round(time.Millisecond))
		summary = res
		if opts.contentOut != "" && env.Content != nil {
			text, err := env.Content.AggregateFull(ctx, opts.course)
			if err != nil {
				return fmt.Errorf("aggregate course %s: %w", opts.course, err)
			}
			if err := util.WriteTextAtomic(opts.contentOut, text); err != nil {
				return err
			}
			cmd.Printf("Course content written to %s\n", opts.contentOut)
		}
	} else {
		cmd.Println("Regenerating all courses...")
		batch, err := env.Runner.RegenerateAll(ctx)
		if err != nil {
			return err
		}
		for _, c := range batch.Courses {
			if c.Status == regen.StatusFailed {
				cmd.Printf("  %s: failed: %s\n", c.CourseID, c.Error)
			}
		}
		cmd.Printf("Run %s: %d succeeded, %d failed\n", batch.RunID, batch.SuccessCount, batch.FailCount)
		failed = batch.FailCount > 0
		summary = batch
	}

	if opts.pruneDays > 0 {
		n, err := env.Runner.Prune(ctx, opts.pruneDays)
		if err != nil {
			return err
		}
		cmd.Printf("Pruned %d vectors older than %d days\n", n, opts.pruneDays)
	}
	if opts.summaryOut != "" {
		if err := util.WriteJSONAtomic(opts.summaryOut, summary); err != nil {
			return err
		}
	}
	if failed {
		return &exitError{code: ExitFailed, err: errors.New("one or more courses failed")}
	}
	return nil
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	if errors.Is(err, ErrUsage) {
		return ExitConfig
	}
	return ExitFailed
}

// Execute runs the command with args and returns the exit code.
func Execute(ctx context.Context, build BuildFunc, args []string, stdout, stderr io.Writer) int {
	if args == nil {
		args = []string{}
	}
	cmd := NewRootCommand(build)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return ExitCode(err)
}
