package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vjranagit/trialpipe/internal/config"
	"github.com/vjranagit/trialpipe/internal/graphdoc"
	"github.com/vjranagit/trialpipe/internal/perrors"
	"github.com/vjranagit/trialpipe/internal/tracing"
)

const version = "0.1.0"

// readersFlag accumulates repeated "--readers name.arg=value" flags into a
// reader_name.arg_name -> value map, per the CLI override contract.
type readersFlag map[string]string

func (f readersFlag) String() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (f readersFlag) Set(s string) error {
	eq := strings.IndexByte(s, '=')
	if eq < 0 {
		return fmt.Errorf("--readers expects name.arg=value, got %q", s)
	}
	f[s[:eq]] = s[eq+1:]
	return nil
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	tracing.Register()

	var err error
	switch os.Args[1] {
	case "convert":
		err = runConvert(os.Args[2:])
	case "gui":
		err = runGUI(os.Args[2:])
	case "graph":
		err = runGraph(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Printf("trialctl: %v", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "trialctl v%s\n\nUsage:\n  trialctl convert --experiment FILE --trial-file FILE [--subject FILE] [--readers k=v]...\n  trialctl gui --experiment FILE --trial-file FILE [--plot-positions FILE]\n  trialctl graph --experiment FILE --graph-file FILE\n", version)
}

func commonFlags(fs *flag.FlagSet) (experiment, subject, trialFile *string, readers readersFlag, searchPath *[]string) {
	experiment = fs.String("experiment", "", "path to the configuration document")
	subject = fs.String("subject", "", "optional subject metadata file, merged into experiment")
	trialFile = fs.String("trial-file", "", "output trial file path; extension selects the format")
	readers = make(readersFlag)
	fs.Var(readers, "readers", "override reader args: reader_name.arg_name=value (repeatable)")
	var sp []string
	fs.Func("search-path", "directory searched for config/data (repeatable)", func(v string) error {
		sp = append(sp, v)
		return nil
	})
	searchPath = &sp
	return
}

func loadDocument(experimentPath, subjectPath string, overrides readersFlag) (*config.Document, error) {
	if experimentPath == "" {
		return nil, perrors.New(perrors.KindConfig, "trialctl: --experiment is required")
	}
	doc, err := config.Load(experimentPath)
	if err != nil {
		return nil, err
	}
	if subjectPath != "" {
		if err := doc.MergeSubject(subjectPath); err != nil {
			return nil, err
		}
	}
	if len(overrides) > 0 {
		if err := doc.ApplyOverrides(overrides); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// runConvert drives a batch run to completion and exits.
func runConvert(args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	experiment, subject, trialFile, readers, _ := commonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *trialFile == "" {
		return perrors.New(perrors.KindConfig, "trialctl: --trial-file is required")
	}

	doc, err := loadDocument(*experiment, *subject, readers)
	if err != nil {
		return err
	}
	built, err := config.Build(doc, *trialFile)
	if err != nil {
		return err
	}
	defer built.Close()
	// simulate_delay pacing applies to gui runs only.
	for _, rt := range built.Driver.Routers {
		rt.Simulate = false
	}

	ctx := interruptContext()
	if err := built.Driver.Run(ctx); err != nil {
		return perrors.Wrap(perrors.KindSinkFailure, err, "trialctl: convert")
	}
	return built.Close()
}

// runGUI drives the same pipeline as convert, but readers whose descriptor
// sets simulate_delay pace their output so plotters (once registered) see
// data arrive at roughly experiment speed. The interactive plot loop itself
// is out of scope here; only the driving and flag surface are implemented.
func runGUI(args []string) error {
	fs := flag.NewFlagSet("gui", flag.ExitOnError)
	experiment, subject, trialFile, readers, _ := commonFlags(fs)
	plotPositions := fs.String("plot-positions", "", "gui window positions persistence file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *trialFile == "" {
		return perrors.New(perrors.KindConfig, "trialctl: --trial-file is required")
	}
	if *plotPositions != "" {
		log.Printf("trialctl: gui: plot-positions %q noted, no plotter is registered to consume it", *plotPositions)
	}

	doc, err := loadDocument(*experiment, *subject, readers)
	if err != nil {
		return err
	}
	built, err := config.Build(doc, *trialFile)
	if err != nil {
		return err
	}
	defer built.Close()

	ctx := interruptContext()
	if err := built.Driver.Run(ctx); err != nil {
		return perrors.Wrap(perrors.KindSinkFailure, err, "trialctl: gui")
	}
	return built.Close()
}

// runGraph emits a Graphviz DOT description of the wired configuration
// without running the driver at all.
func runGraph(args []string) error {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	experiment, subject, trialFile, readers, _ := commonFlags(fs)
	graphFile := fs.String("graph-file", "", "output path for the dependency graph")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *graphFile == "" {
		return perrors.New(perrors.KindConfig, "trialctl: --graph-file is required")
	}

	doc, err := loadDocument(*experiment, *subject, readers)
	if err != nil {
		return err
	}

	sinkPath := *trialFile
	if sinkPath == "" {
		sinkPath = "(unspecified)"
	}
	dot := graphdoc.Render(doc, sinkPath)
	return os.WriteFile(*graphFile, []byte(dot), 0o644)
}

// interruptContext returns a context canceled on SIGINT/SIGTERM, so a
// driver run mid-cycle stops without flushing a still-open final window.
func interruptContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("trialctl: interrupt received, stopping after the current cycle")
		cancel()
	}()
	return ctx
}
