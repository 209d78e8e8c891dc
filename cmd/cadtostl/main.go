// Command cadtostl converts STEP, IGES and OBJ files to STL.
//
//	cadtostl [flags] <input_file> [output_file]
//	cadtostl [flags] -manifest batch.yaml
//
// Exit status is 0 on success, 1 when a conversion fails and 2 on usage errors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"

	"github.com/Lllllllleong/cadtostl/internal/batch"
	"github.com/Lllllllleong/cadtostl/internal/config"
	"github.com/Lllllllleong/cadtostl/internal/kernel"
	"github.com/Lllllllleong/cadtostl/internal/models"
	"github.com/Lllllllleong/cadtostl/internal/pipeline"
	"github.com/Lllllllleong/cadtostl/internal/prompt"
	"github.com/Lllllllleong/cadtostl/internal/stl"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	usageHeader = "Usage: cadtostl [flags] <input_file> [output_file]\n       cadtostl [flags] -manifest <batch.yaml>\n"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, prompt.Survey())
	stop()
	os.Exit(code)
}

type options struct {
	deflection  models.DeflectionParameters
	tuned       bool
	ascii       bool
	verify      bool
	manifest    string
	jobs        int
	interactive bool
	freecad     string
	verbose     bool
	args        []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	base := config.Deflection()
	o := &options{}

	fs := flag.NewFlagSet("cadtostl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	linear := fs.Float64("linear", base.Linear, "linear deflection (maximum chordal distance, model units)")
	angular := fs.Float64("angular", base.Angular, "angular deflection in radians")
	quality := fs.Float64("quality", 0, "mesh quality; alias for -linear")
	fs.BoolVar(&o.ascii, "ascii", config.GetEnvBool("STL_ASCII", false), "write ASCII STL instead of binary")
	fs.BoolVar(&o.verify, "verify", false, "re-read the written STL and report its size and bounds")
	fs.StringVar(&o.manifest, "manifest", "", "YAML manifest listing files to convert")
	fs.IntVar(&o.jobs, "jobs", config.GetEnvInt("CADTOSTL_JOBS", runtime.NumCPU()), "conversions to run at once in batch mode")
	fs.BoolVar(&o.interactive, "interactive", false, "prompt for missing arguments")
	fs.StringVar(&o.freecad, "freecad", "", "path to freecadcmd (default: $FREECADCMD, then auto-detect)")
	fs.BoolVar(&o.verbose, "verbose", false, "enable debug logging on stderr")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usageHeader)
		fmt.Fprintf(fs.Output(), "Supported input formats: %s\n\nFlags:\n", pipeline.SupportedExtensions)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	o.deflection = models.DeflectionParameters{Linear: *linear, Angular: *angular}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "quality":
			o.deflection.Linear = *quality
			o.tuned = true
		case "linear", "angular":
			o.tuned = true
		}
	})
	o.args = fs.Args()

	switch {
	case o.manifest != "" && len(o.args) > 0:
		return nil, usageError(fs, "-manifest does not take positional arguments")
	case len(o.args) > 2:
		return nil, usageError(fs, "too many arguments")
	case o.manifest == "" && len(o.args) == 0 && !o.interactive:
		return nil, usageError(fs, "missing input file")
	}
	return o, nil
}

func usageError(fs *flag.FlagSet, msg string) error {
	fmt.Fprintf(fs.Output(), "Error: %s\n", msg)
	fs.Usage()
	return errors.New(msg)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, driver prompt.Driver) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	pipeline.SetLogger(logger)

	kcfg := config.KernelFromEnv()
	if o.freecad != "" {
		kcfg.Executable = o.freecad
	}
	k := kernel.New(kernel.WithExecutable(kcfg.Executable), kernel.WithWorkDir(kcfg.WorkDir), kernel.WithLogger(logger))
	logger.Debug("Geometry kernel selected.", "freecadcmd", k.Executable())
	conv := pipeline.New(pipeline.WithKernel(k), pipeline.WithLogger(logger))

	if o.manifest != "" {
		return runBatch(ctx, conv, o, stdout)
	}
	return runSingle(ctx, conv, o, stdout, driver)
}

func runSingle(ctx context.Context, conv *pipeline.Converter, o *options, stdout io.Writer, driver prompt.Driver) int {
	ans := prompt.Answers{Deflection: o.deflection, ASCII: o.ascii, Tuned: o.tuned}
	if len(o.args) > 0 {
		ans.Input = o.args[0]
	}
	if len(o.args) > 1 {
		ans.Output = o.args[1]
	}

	if o.interactive {
		var err error
		if ans, err = prompt.Ask(ctx, driver, ans); err != nil {
			if errors.Is(err, prompt.ErrAborted) {
				fmt.Fprintln(stdout, "Aborted.")
				return exitFailed
			}
			fmt.Fprintf(stdout, "Error: %v\n", err)
			return exitUsage
		}
	}
	if ans.Output == "" {
		ans.Output = prompt.DefaultOutput(ans.Input)
	}

	job := models.NewConversionJob("", ans.Input, ans.Output)
	job.Deflection = ans.Deflection
	job.ASCII = ans.ASCII
	job.OnLog = func(line string) { fmt.Fprintln(stdout, line) }

	res := conv.Convert(ctx, job)
	if !res.Succeeded() {
		if pipeline.KindOf(res.Err) == pipeline.ErrUnsupportedFormat {
			fmt.Fprintf(stdout, "Supported input formats: %s\n", pipeline.SupportedExtensions)
		}
		return exitFailed
	}
	if o.verify {
		if err := verify(stdout, res); err != nil {
			fmt.Fprintf(stdout, "✗ Verification failed: %v\n", err)
			return exitFailed
		}
	}
	return exitOK
}

func runBatch(ctx context.Context, conv *pipeline.Converter, o *options, stdout io.Writer) int {
	m, err := batch.LoadManifest(o.manifest)
	if err != nil {
		fmt.Fprintf(stdout, "Error: %v\n", err)
		return exitUsage
	}
	jobs := m.Jobs(o.deflection)
	if o.ascii {
		for _, j := range jobs {
			j.ASCII = true
		}
	}

	total := len(jobs)
	r := &batch.Runner{
		Converter:   conv,
		Concurrency: o.jobs,
		Progress: func(i int, line string) {
			fmt.Fprintf(stdout, "[%d/%d] %s\n", i+1, total, line)
		},
	}
	outcomes := r.Run(ctx, jobs)

	failed := batch.Failed(outcomes)
	for i, out := range outcomes {
		if !out.Result.Succeeded() {
			fmt.Fprintf(stdout, "[%d/%d] FAILED %s: %s\n", i+1, total, out.Job.InputPath, out.Result.ErrorMessage)
			continue
		}
		if o.verify {
			if err := verify(stdout, out.Result); err != nil {
				fmt.Fprintf(stdout, "[%d/%d] ✗ Verification failed: %v\n", i+1, total, err)
				failed++
			}
		}
	}
	fmt.Fprintf(stdout, "Converted %d of %d files.\n", total-failed, total)
	if failed > 0 {
		return exitFailed
	}
	return exitOK
}

// verify re-reads the STL named by res and checks it against what the converter reported.
func verify(w io.Writer, res models.ConversionResult) error {
	s, err := stl.ReadFile(res.OutputPath)
	if err != nil {
		return err
	}
	st := s.Stats()
	if st.Triangles != res.Triangles {
		return fmt.Errorf("%s has %d triangles, expected %d", res.OutputPath, st.Triangles, res.Triangles)
	}
	if st.BadNormals > 0 {
		return fmt.Errorf("%s has %d facets without a unit normal", res.OutputPath, st.BadNormals)
	}
	b := st.Bounds
	fmt.Fprintf(w, "Verified %s: %d triangles (%d degenerate), bounds (%g, %g, %g) - (%g, %g, %g)\n",
		res.OutputPath, st.Triangles, st.Degenerate, b.Min.X, b.Min.Y, b.Min.Z, b.Max.X, b.Max.Y, b.Max.Z)
	return nil
}
