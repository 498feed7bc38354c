// Package registry implements name → constructor resolution for readers,
// transformers, enhancers, and collecters: a static, build-time table per
// component kind. An unknown dotted class name is always a Config error,
// never a filesystem or plugin lookup.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vjranagit/trialpipe/internal/exprlang"
	"github.com/vjranagit/trialpipe/internal/perrors"
	"github.com/vjranagit/trialpipe/pkg/enhance"
	"github.com/vjranagit/trialpipe/pkg/reader"
	"github.com/vjranagit/trialpipe/pkg/reader/csvreader"
	"github.com/vjranagit/trialpipe/pkg/reader/netreader"
	"github.com/vjranagit/trialpipe/pkg/transform"
)

func compileSchema(name, schemaJSON string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader([]byte(schemaJSON))); err != nil {
		panic(fmt.Sprintf("registry: bad schema for %q: %v", name, err))
	}
	s, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("registry: bad schema for %q: %v", name, err))
	}
	return s
}

func validate(class string, schema *jsonschema.Schema, args json.RawMessage) error {
	if len(args) == 0 {
		args = []byte("{}")
	}
	var v interface{}
	if err := json.Unmarshal(args, &v); err != nil {
		return perrors.Wrapf(perrors.KindConfig, err, "registry: %s: invalid args", class)
	}
	if err := schema.Validate(v); err != nil {
		return perrors.Wrapf(perrors.KindConfig, err, "registry: %s: args failed schema validation", class)
	}
	return nil
}

func decodeArgs(class string, args json.RawMessage, out interface{}) error {
	if len(args) == 0 {
		args = []byte("{}")
	}
	if err := json.Unmarshal(args, out); err != nil {
		return perrors.Wrapf(perrors.KindConfig, err, "registry: %s: decode args", class)
	}
	return nil
}

// ---- readers ----

type readerEntry struct {
	schema *jsonschema.Schema
	build  func(args json.RawMessage) (reader.Reader, error)
}

var readers = map[string]readerEntry{
	"csv_numeric": {
		schema: compileSchema("csv_numeric.schema.json", `{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"result_name": {"type": "string"},
				"batch_size": {"type": "integer", "minimum": 1}
			},
			"required": ["path", "result_name"],
			"additionalProperties": false
		}`),
		build: func(args json.RawMessage) (reader.Reader, error) {
			var a struct {
				Path       string `json:"path"`
				ResultName string `json:"result_name"`
				BatchSize  int    `json:"batch_size"`
			}
			if err := decodeArgs("csv_numeric", args, &a); err != nil {
				return nil, err
			}
			f, err := os.Open(a.Path)
			if err != nil {
				return nil, perrors.Wrapf(perrors.KindConfig, err, "csv_numeric: open %s", a.Path)
			}
			defer f.Close()
			return csvreader.NewNumeric(f, a.ResultName, a.BatchSize)
		},
	},
	"csv_text": {
		schema: compileSchema("csv_text.schema.json", `{
			"type": "object",
			"properties": {
				"path": {"type": "string"},
				"result_name": {"type": "string"},
				"batch_size": {"type": "integer", "minimum": 1}
			},
			"required": ["path", "result_name"],
			"additionalProperties": false
		}`),
		build: func(args json.RawMessage) (reader.Reader, error) {
			var a struct {
				Path       string `json:"path"`
				ResultName string `json:"result_name"`
				BatchSize  int    `json:"batch_size"`
			}
			if err := decodeArgs("csv_text", args, &a); err != nil {
				return nil, err
			}
			f, err := os.Open(a.Path)
			if err != nil {
				return nil, perrors.Wrapf(perrors.KindConfig, err, "csv_text: open %s", a.Path)
			}
			defer f.Close()
			return csvreader.NewText(f, a.ResultName, a.BatchSize)
		},
	},
	"net": {
		schema: compileSchema("net.schema.json", `{
			"type": "object",
			"properties": {
				"result_name": {"type": "string"},
				"capacity": {"type": "integer", "minimum": 1}
			},
			"required": ["result_name", "capacity"],
			"additionalProperties": false
		}`),
		build: func(args json.RawMessage) (reader.Reader, error) {
			var a struct {
				ResultName string `json:"result_name"`
				Capacity   int    `json:"capacity"`
			}
			if err := decodeArgs("net", args, &a); err != nil {
				return nil, err
			}
			return netreader.New(a.ResultName, a.Capacity), nil
		},
	},
}

// Reader builds a reader.Reader for class, validating args against its
// schema first. class names not in the table are a Config error.
func Reader(class string, args json.RawMessage) (reader.Reader, error) {
	e, ok := readers[class]
	if !ok {
		return nil, perrors.New(perrors.KindConfig, fmt.Sprintf("registry: unknown reader class %q", class))
	}
	if err := validate(class, e.schema, args); err != nil {
		return nil, err
	}
	return e.build(args)
}

// ---- transformers ----

type transformerEntry struct {
	schema *jsonschema.Schema
	build  func(args json.RawMessage) (transform.Transformer, error)
}

var transformers = map[string]transformerEntry{
	"offset_then_gain": {
		schema: compileSchema("offset_then_gain.schema.json", `{
			"type": "object",
			"properties": {
				"offset": {"type": "number"},
				"gain": {"type": "number"},
				"columns": {"type": "array", "items": {"type": "integer"}},
				"channels": {"type": "array", "items": {"type": "integer"}}
			},
			"additionalProperties": false
		}`),
		build: func(args json.RawMessage) (transform.Transformer, error) {
			var a struct {
				Offset   float64 `json:"offset"`
				Gain     float64 `json:"gain"`
				Columns  []int   `json:"columns"`
				Channels []int   `json:"channels"`
			}
			if err := decodeArgs("offset_then_gain", args, &a); err != nil {
				return nil, err
			}
			return transform.OffsetThenGain{Offset: a.Offset, Gain: a.Gain, Columns: a.Columns, Channels: a.Channels}, nil
		},
	},
	"filter_range": {
		schema: compileSchema("filter_range.schema.json", `{
			"type": "object",
			"properties": {
				"column": {"type": "integer"},
				"compare": {"type": "string", "enum": ["equals", "range"]},
				"min": {"type": "number"},
				"max": {"type": "number"}
			},
			"required": ["column", "compare"],
			"additionalProperties": false
		}`),
		build: func(args json.RawMessage) (transform.Transformer, error) {
			var a struct {
				Column  int     `json:"column"`
				Compare string  `json:"compare"`
				Min     float64 `json:"min"`
				Max     float64 `json:"max"`
			}
			if err := decodeArgs("filter_range", args, &a); err != nil {
				return nil, err
			}
			cmp := transform.CompareEquals
			if a.Compare == "range" {
				cmp = transform.CompareRange
			}
			return transform.FilterRange{Column: a.Column, Compare: cmp, Min: a.Min, Max: a.Max}, nil
		},
	},
	"sparse_signal": {
		schema: compileSchema("sparse_signal.schema.json", `{
			"type": "object",
			"properties": {
				"sample_frequency": {"type": "number", "exclusiveMinimum": 0},
				"channel_ids": {"type": "array", "items": {"type": "string"}},
				"fill_constant": {"type": "boolean"},
				"fill_value": {"type": "number"}
			},
			"required": ["sample_frequency", "channel_ids"],
			"additionalProperties": false
		}`),
		build: func(args json.RawMessage) (transform.Transformer, error) {
			var a struct {
				SampleFrequency float64  `json:"sample_frequency"`
				ChannelIDs      []string `json:"channel_ids"`
				FillConstant    bool     `json:"fill_constant"`
				FillValue       float64  `json:"fill_value"`
			}
			if err := decodeArgs("sparse_signal", args, &a); err != nil {
				return nil, err
			}
			return transform.SparseSignal{
				SampleFrequency: a.SampleFrequency,
				ChannelIDs:      a.ChannelIDs,
				FillConstant:    a.FillConstant,
				FillValue:       a.FillValue,
			}, nil
		},
	},
}

// Transformer builds a transform.Transformer for class, validating args
// against its schema first.
func Transformer(class string, args json.RawMessage) (transform.Transformer, error) {
	e, ok := transformers[class]
	if !ok {
		return nil, perrors.New(perrors.KindConfig, fmt.Sprintf("registry: unknown transformer class %q", class))
	}
	if err := validate(class, e.schema, args); err != nil {
		return nil, err
	}
	return e.build(args)
}

// ---- enhancers ----

type enhancerEntry struct {
	schema *jsonschema.Schema
	build  func(args json.RawMessage) (enhance.Enhancer, error)
}

var enhancers = map[string]enhancerEntry{
	"duration": {
		schema: compileSchema("duration.schema.json", `{"type": "object", "additionalProperties": false}`),
		build: func(args json.RawMessage) (enhance.Enhancer, error) {
			return enhance.NewDuration(), nil
		},
	},
	"smoother": {
		schema: compileSchema("smoother.schema.json", `{
			"type": "object",
			"properties": {
				"signal_name": {"type": "string"},
				"window_size": {"type": "integer", "minimum": 1}
			},
			"required": ["signal_name", "window_size"],
			"additionalProperties": false
		}`),
		build: func(args json.RawMessage) (enhance.Enhancer, error) {
			var a struct {
				SignalName string `json:"signal_name"`
				WindowSize int    `json:"window_size"`
			}
			if err := decodeArgs("smoother", args, &a); err != nil {
				return nil, err
			}
			return &enhance.Smoother{SignalName: a.SignalName, WindowSize: a.WindowSize}, nil
		},
	},
	"expression": {
		schema: compileSchema("expression.schema.json", `{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"expression": {"type": "string"}
			},
			"required": ["name", "expression"],
			"additionalProperties": false
		}`),
		build: func(args json.RawMessage) (enhance.Enhancer, error) {
			var a struct {
				Name       string `json:"name"`
				Expression string `json:"expression"`
			}
			if err := decodeArgs("expression", args, &a); err != nil {
				return nil, err
			}
			return enhance.NewExpression(a.Name, a.Expression)
		},
	},
	"event_times": {
		schema: compileSchema("event_times.schema.json", `{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"source_name": {"type": "string"},
				"column": {"type": "integer"},
				"value": {"type": "number"}
			},
			"required": ["name", "source_name", "value"],
			"additionalProperties": false
		}`),
		build: func(args json.RawMessage) (enhance.Enhancer, error) {
			var a struct {
				Name       string  `json:"name"`
				SourceName string  `json:"source_name"`
				Column     int     `json:"column"`
				Value      float64 `json:"value"`
			}
			if err := decodeArgs("event_times", args, &a); err != nil {
				return nil, err
			}
			return &enhance.EventTimes{EnhancementName: a.Name, SourceName: a.SourceName, Column: a.Column, Value: a.Value}, nil
		},
	},
	"paired_codes": {
		schema: compileSchema("paired_codes.schema.json", `{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"source_name": {"type": "string"},
				"column": {"type": "integer"},
				"start_value": {"type": "number"},
				"end_value": {"type": "number"}
			},
			"required": ["name", "source_name", "start_value", "end_value"],
			"additionalProperties": false
		}`),
		build: func(args json.RawMessage) (enhance.Enhancer, error) {
			var a struct {
				Name       string  `json:"name"`
				SourceName string  `json:"source_name"`
				Column     int     `json:"column"`
				StartValue float64 `json:"start_value"`
				EndValue   float64 `json:"end_value"`
			}
			if err := decodeArgs("paired_codes", args, &a); err != nil {
				return nil, err
			}
			return &enhance.PairedCodes{
				EnhancementName: a.Name,
				SourceName:      a.SourceName,
				Column:          a.Column,
				StartValue:      a.StartValue,
				EndValue:        a.EndValue,
			}, nil
		},
	},
	"saccade": {
		schema: compileSchema("saccade.schema.json", `{
			"type": "object",
			"properties": {
				"name": {"type": "string"},
				"signal_name": {"type": "string"},
				"velocity_threshold": {"type": "number"}
			},
			"required": ["name", "signal_name", "velocity_threshold"],
			"additionalProperties": false
		}`),
		build: func(args json.RawMessage) (enhance.Enhancer, error) {
			var a struct {
				Name              string  `json:"name"`
				SignalName        string  `json:"signal_name"`
				VelocityThreshold float64 `json:"velocity_threshold"`
			}
			if err := decodeArgs("saccade", args, &a); err != nil {
				return nil, err
			}
			return &enhance.Saccade{EnhancementName: a.Name, SignalName: a.SignalName, VelocityThreshold: a.VelocityThreshold}, nil
		},
	},
}

// Enhancer builds an enhance.Enhancer for class, validating args against
// its schema first.
func Enhancer(class string, args json.RawMessage) (enhance.Enhancer, error) {
	e, ok := enhancers[class]
	if !ok {
		return nil, perrors.New(perrors.KindConfig, fmt.Sprintf("registry: unknown enhancer class %q", class))
	}
	if err := validate(class, e.schema, args); err != nil {
		return nil, err
	}
	return e.build(args)
}

// ---- collecters ----

type collecterEntry struct {
	schema *jsonschema.Schema
	build  func(args json.RawMessage) (enhance.Collecter, error)
}

var collecters = map[string]collecterEntry{
	"normalizer": {
		schema: compileSchema("normalizer.schema.json", `{
			"type": "object",
			"properties": {"signal_name": {"type": "string"}},
			"required": ["signal_name"],
			"additionalProperties": false
		}`),
		build: func(args json.RawMessage) (enhance.Collecter, error) {
			var a struct {
				SignalName string `json:"signal_name"`
			}
			if err := decodeArgs("normalizer", args, &a); err != nil {
				return nil, err
			}
			return &enhance.Normalizer{SignalName: a.SignalName}, nil
		},
	},
	"run_summary": {
		schema: compileSchema("run_summary.schema.json", `{"type": "object", "additionalProperties": false}`),
		build: func(args json.RawMessage) (enhance.Collecter, error) {
			return enhance.RunSummary{}, nil
		},
	},
}

// Collecter builds an enhance.Collecter for class, validating args
// against its schema first.
func Collecter(class string, args json.RawMessage) (enhance.Collecter, error) {
	e, ok := collecters[class]
	if !ok {
		return nil, perrors.New(perrors.KindConfig, fmt.Sprintf("registry: unknown collecter class %q", class))
	}
	if err := validate(class, e.schema, args); err != nil {
		return nil, err
	}
	return e.build(args)
}

// Expression compiles a restricted filter/when expression. It is exposed
// here, rather than requiring every caller to import exprlang directly,
// so the registry remains the single place component wiring goes through.
func Expression(source string) (*exprlang.Program, error) {
	if strings.TrimSpace(source) == "" {
		return nil, perrors.New(perrors.KindConfig, "registry: empty expression")
	}
	return exprlang.Compile(source)
}
