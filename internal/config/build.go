package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/vjranagit/trialpipe/internal/perrors"
	"github.com/vjranagit/trialpipe/internal/registry"
	"github.com/vjranagit/trialpipe/pkg/buffer"
	"github.com/vjranagit/trialpipe/pkg/delimiter"
	"github.com/vjranagit/trialpipe/pkg/driver"
	"github.com/vjranagit/trialpipe/pkg/enhance"
	"github.com/vjranagit/trialpipe/pkg/reader"
	"github.com/vjranagit/trialpipe/pkg/sink/jsonl"
	"github.com/vjranagit/trialpipe/pkg/sink/kvsink"
	"github.com/vjranagit/trialpipe/pkg/sync2"
	"github.com/vjranagit/trialpipe/pkg/transform"
	"github.com/vjranagit/trialpipe/pkg/trial"
)

// Sink is the contract every trial-file sink in this module satisfies:
// trial.Sink plus Close. pkg/driver discovers the optional
// RewritableSink/SummarySink capabilities itself via type assertion.
type Sink interface {
	trial.Sink
	Close() error
}

// Built holds every component wired from a Document, ready to run.
type Built struct {
	Driver *driver.Driver
	Sink   Sink
	// secondaryLog is the append-only drain target the driver falls back
	// to once Sink fails fatally; closed alongside Sink.
	secondaryLog *jsonl.Sink
}

// Close closes the primary sink and, if one was opened, the secondary
// drain log.
func (b *Built) Close() error {
	err := b.Sink.Close()
	if b.secondaryLog != nil {
		if serr := b.secondaryLog.Close(); serr != nil && err == nil {
			err = serr
		}
	}
	return err
}

type namedBuffer struct {
	readerName string
	buf        interface{}
}

// Build wires a full Driver from doc, writing trials to trialFilePath.
// The sink implementation is chosen by trialFilePath's extension, per
// the trial file format contract.
func Build(doc *Document, trialFilePath string) (*Built, error) {
	sources := map[string]namedBuffer{}
	readerNames := sortedReaderNames(doc.Readers)

	refName, err := findReferenceReader(doc.Readers, readerNames)
	if err != nil {
		return nil, err
	}
	reg := sync2.NewRegistry(refName)

	routers := map[string]*reader.Router{}
	var syncWatches []*driver.SyncWatch

	for _, name := range readerNames {
		spec := doc.Readers[name]

		argsJSON, err := marshalArgs(spec.Args)
		if err != nil {
			return nil, perrors.Wrapf(perrors.KindConfig, err, "config: reader %q args", name)
		}
		rdr, err := registry.Reader(spec.Class, argsJSON)
		if err != nil {
			return nil, err
		}

		resultName, _ := spec.Args["result_name"].(string)
		if resultName == "" {
			return nil, perrors.New(perrors.KindConfig, fmt.Sprintf("config: reader %q: args.result_name is required", name))
		}
		variety := spec.Variety
		if variety == "" {
			variety = readerVariety(spec.Class)
		}
		primaryBuf, target := newBuffer(variety, resultName)
		sources[resultName] = namedBuffer{readerName: name, buf: primaryBuf}

		derivedSpecs, err := buildDerivedBuffers(name, spec.ExtraBuffers, sources)
		if err != nil {
			return nil, err
		}

		rt := reader.NewRouter(name, rdr, map[string]reader.PrimaryTarget{resultName: target}, derivedSpecs)
		rt.Simulate = spec.SimulateDelay
		routers[name] = rt

		if spec.Sync != nil {
			if err := wireSync(reg, name, spec.Sync, sources, &syncWatches); err != nil {
				return nil, err
			}
		}
	}

	tSources := buildSourceList(sources)

	startNumeric, err := lookupNumericBuffer(sources, doc.Trials.StartBuffer, "trials.start_buffer")
	if err != nil {
		return nil, err
	}

	enhancePipeline, err := buildEnhancers(doc.Trials.Enhancers)
	if err != nil {
		return nil, err
	}
	collecters, err := buildCollecters(doc.Trials.Collecters)
	if err != nil {
		return nil, err
	}

	sink, err := openSink(trialFilePath)
	if err != nil {
		return nil, err
	}

	extractor := &trial.Extractor{
		Sources: tSources,
		WRT:     trial.WRTConfig{SourceName: doc.Trials.WRTBuffer, Column: doc.Trials.WRTColumn, Value: doc.Trials.WRTValue},
		Routers: routers,
		Sync:    reg,
		Enhance: enhancePipeline,
		Sink:    sink,
	}

	secondaryLog, err := jsonl.Open(secondaryLogPath(trialFilePath))
	if err != nil {
		return nil, perrors.Wrap(perrors.KindSinkFailure, err, "config: open secondary log")
	}

	d := &driver.Driver{
		Routers:         routers,
		Delimiter:       delimiter.New(doc.Trials.StartBuffer, doc.Trials.StartColumn, doc.Trials.StartValue),
		DelimiterSource: startNumeric,
		SyncWatches:     syncWatches,
		Sync:            reg,
		Extractor:       extractor,
		Collecters:      collecters,
		Metadata:        runMetadata(doc),
		SecondaryLog:    secondaryLog,
	}

	return &Built{Driver: d, Sink: sink, secondaryLog: secondaryLog}, nil
}

// secondaryLogPath derives the drain-on-fatal-sink-failure log path from
// the primary trial file path, alongside it rather than inside whatever
// directory a kvsink database might occupy.
func secondaryLogPath(trialFilePath string) string {
	return trialFilePath + ".secondary.jsonl"
}

// runMetadata stamps a fresh run identifier alongside the document's
// experiment/subject fields, so each run's summary header can be told
// apart from another run over the same experiment.
func runMetadata(doc *Document) map[string]interface{} {
	meta := make(map[string]interface{}, len(doc.Experiment)+1)
	for k, v := range doc.Experiment {
		meta[k] = v
	}
	meta["run_id"] = uuid.New().String()
	return meta
}

// findReferenceReader enforces "exactly one reader must declare
// sync.is_reference = true" among readers that participate in sync at
// all. A document with no sync descriptors anywhere has no reference
// reader and needs none.
func findReferenceReader(readers map[string]ReaderSpec, names []string) (string, error) {
	refName := ""
	count := 0
	anySync := false
	for _, name := range names {
		spec := readers[name]
		if spec.Sync == nil {
			continue
		}
		anySync = true
		if spec.Sync.IsReference {
			count++
			refName = name
		}
	}
	if count > 1 {
		return "", perrors.New(perrors.KindConfig, "config: more than one reader declares sync.is_reference")
	}
	if anySync && count == 0 {
		return "", perrors.New(perrors.KindConfig, "config: exactly one reader must declare sync.is_reference, none do")
	}
	return refName, nil
}

func buildDerivedBuffers(readerName string, specs []ExtraBufferSpec, sources map[string]namedBuffer) ([]reader.DerivedSpec, error) {
	var out []reader.DerivedSpec
	for _, eb := range specs {
		pipeline, channelIDs, err := buildPipeline(eb.Transformers)
		if err != nil {
			return nil, perrors.Wrapf(perrors.KindConfig, err, "config: reader %q extra buffer %q", readerName, eb.Name)
		}
		variety := eb.Variety
		if variety == "" {
			variety = "numeric"
		}
		derivedBuf, derivedTarget := newBuffer(variety, eb.Name)
		sources[eb.Name] = namedBuffer{readerName: readerName, buf: derivedBuf}
		out = append(out, reader.DerivedSpec{
			Name:           eb.Name,
			SourceResult:   eb.ReaderResultName,
			Pipeline:       pipeline,
			Target:         derivedTarget,
			TargetChannels: channelIDs,
		})
	}
	return out, nil
}

func buildPipeline(specs []ClassSpec) (transform.Pipeline, []string, error) {
	var pipeline transform.Pipeline
	var channelIDs []string
	for _, spec := range specs {
		argsJSON, err := marshalArgs(spec.Args)
		if err != nil {
			return pipeline, nil, err
		}
		tf, err := registry.Transformer(spec.Class, argsJSON)
		if err != nil {
			return pipeline, nil, err
		}
		pipeline.Stages = append(pipeline.Stages, tf)
		if sp, ok := tf.(transform.SparseSignal); ok {
			channelIDs = sp.ChannelIDs
		}
	}
	return pipeline, channelIDs, nil
}

func wireSync(reg *sync2.Registry, readerName string, spec *SyncSpec, sources map[string]namedBuffer, watches *[]*driver.SyncWatch) error {
	if spec.ReaderName != "" {
		if spec.BufferName != "" || spec.Filter != "" {
			return perrors.New(perrors.KindConfig, fmt.Sprintf("config: reader %q: sync.reader_name is mutually exclusive with an own sync descriptor", readerName))
		}
		reg.Inherit(readerName, spec.ReaderName)
		return nil
	}
	if spec.BufferName == "" || spec.Filter == "" {
		return perrors.New(perrors.KindConfig, fmt.Sprintf("config: reader %q: sync needs buffer_name+filter or reader_name", readerName))
	}
	numBuf, err := lookupNumericBuffer(sources, spec.BufferName, fmt.Sprintf("reader %q sync.buffer_name", readerName))
	if err != nil {
		return err
	}
	prog, err := registry.Expression(spec.Filter)
	if err != nil {
		return err
	}
	pred := func(row buffer.NumericRow) bool {
		ok, err := prog.RunBool(rowEnv(row))
		return err == nil && ok
	}

	var key sync2.PairingKey
	switch spec.PairingStrategy {
	case "", "closest_in_time":
		// ClosestInTime is the Registry's own default; nothing to set.
	case "keyed":
		reg.SetStrategy(readerName, sync2.Keyed{})
		if spec.PairingKey == "" {
			return perrors.New(perrors.KindConfig, fmt.Sprintf("config: reader %q: pairing_strategy keyed requires pairing_key", readerName))
		}
		keyProg, err := registry.Expression(spec.PairingKey)
		if err != nil {
			return err
		}
		key = func(row buffer.NumericRow) string {
			v, err := keyProg.Run(rowEnv(row))
			if err != nil {
				return ""
			}
			return fmt.Sprintf("%v", v)
		}
	default:
		return perrors.New(perrors.KindConfig, fmt.Sprintf("config: reader %q: unknown pairing_strategy %q", readerName, spec.PairingStrategy))
	}

	*watches = append(*watches, &driver.SyncWatch{ReaderName: readerName, Buffer: numBuf, Pred: pred, Key: key})
	return nil
}

func rowEnv(row buffer.NumericRow) map[string]interface{} {
	v := make([]interface{}, len(row.V))
	for i, x := range row.V {
		v[i] = x
	}
	return map[string]interface{}{"t": row.T, "v": v}
}

func buildEnhancers(specs []EnhancerSpec) (*enhance.Pipeline, error) {
	p := &enhance.Pipeline{}
	for _, spec := range specs {
		argsJSON, err := marshalArgs(spec.Args)
		if err != nil {
			return nil, err
		}
		en, err := registry.Enhancer(spec.Class, argsJSON)
		if err != nil {
			return nil, err
		}
		entry := enhance.Entry{Enhancer: en}
		if spec.When != "" {
			prog, err := registry.Expression(spec.When)
			if err != nil {
				return nil, err
			}
			entry.When = prog
		}
		p.Entries = append(p.Entries, entry)
	}
	return p, nil
}

func buildCollecters(specs []ClassSpec) ([]enhance.Collecter, error) {
	var out []enhance.Collecter
	for _, spec := range specs {
		argsJSON, err := marshalArgs(spec.Args)
		if err != nil {
			return nil, err
		}
		c, err := registry.Collecter(spec.Class, argsJSON)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func openSink(path string) (Sink, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json", ".jsonl":
		return jsonl.Open(path)
	case ".h5", ".hdf5", ".hdf", ".he5":
		dir := strings.TrimSuffix(path, filepath.Ext(path))
		return kvsink.Open(dir)
	default:
		return nil, perrors.New(perrors.KindConfig, fmt.Sprintf("config: trial file %q has an unrecognized extension", path))
	}
}

func buildSourceList(sources map[string]namedBuffer) []trial.Source {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]trial.Source, 0, len(names))
	for _, name := range names {
		nb := sources[name]
		s := trial.Source{Name: name, ReaderName: nb.readerName}
		switch buf := nb.buf.(type) {
		case *buffer.NumericEventBuffer:
			s.Numeric = buf
		case *buffer.TextEventBuffer:
			s.Text = buf
		case *buffer.SignalBuffer:
			s.Signal = buf
		}
		out = append(out, s)
	}
	return out
}

func lookupNumericBuffer(sources map[string]namedBuffer, name, field string) (*buffer.NumericEventBuffer, error) {
	nb, ok := sources[name]
	if !ok {
		return nil, perrors.New(perrors.KindConfig, fmt.Sprintf("config: %s %q is not a known buffer", field, name))
	}
	numBuf, ok := nb.buf.(*buffer.NumericEventBuffer)
	if !ok {
		return nil, perrors.New(perrors.KindConfig, fmt.Sprintf("config: %s %q is not a numeric buffer", field, name))
	}
	return numBuf, nil
}

func newBuffer(variety, name string) (interface{}, reader.PrimaryTarget) {
	switch variety {
	case "text":
		b := buffer.NewTextEventBuffer(name)
		return b, reader.TextTarget{Buf: b}
	case "signal":
		b := buffer.NewSignalBuffer(name)
		return b, reader.SignalTarget{Buf: b}
	default:
		b := buffer.NewNumericEventBuffer(name)
		return b, reader.NumericTarget{Buf: b}
	}
}

func readerVariety(class string) string {
	switch {
	case strings.HasSuffix(class, "_text"):
		return "text"
	default:
		return "numeric"
	}
}

func marshalArgs(args Args) (json.RawMessage, error) {
	if args == nil {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(map[string]interface{}(args))
}

func sortedReaderNames(readers map[string]ReaderSpec) []string {
	names := make([]string, 0, len(readers))
	for name := range readers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
