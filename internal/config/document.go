// Package config loads and validates the declarative descriptor: the
// hierarchical document naming readers, their extra buffers and sync
// descriptors, the trial delimiter and WRT markers, and the enhancer and
// collecter lists. The document is YAML (gopkg.in/yaml.v3); each
// reader/transformer/enhancer/collecter's args bag is validated against
// its class's JSON Schema by internal/registry before construction.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vjranagit/trialpipe/internal/perrors"
)

// Document is the top-level shape of the configuration file, matching the
// four sections of the hierarchical descriptor.
type Document struct {
	Experiment map[string]interface{} `yaml:"experiment"`
	Readers    map[string]ReaderSpec  `yaml:"readers"`
	Trials     TrialsSpec             `yaml:"trials"`
	Plotters   []ClassSpec             `yaml:"plotters"`
}

// ClassSpec is the {class, args} shape shared by every pluggable
// component entry in the document.
type ClassSpec struct {
	Class string `yaml:"class"`
	Args  Args   `yaml:"args"`
}

// Args is a raw args bag, decoded to interface{} by yaml.v3 and
// re-marshaled to JSON at the point registry.* validates and constructs,
// since the registry's schemas and constructors speak JSON, not YAML.
type Args map[string]interface{}

// ReaderSpec describes one entry of the readers section.
type ReaderSpec struct {
	Class         string            `yaml:"class"`
	// Variety overrides the Neutral Zone buffer variety this reader's
	// primary result is stored in ("numeric", "text", "signal"). Inferred
	// from the class name's suffix when empty.
	Variety       string            `yaml:"variety"`
	Args          Args              `yaml:"args"`
	ExtraBuffers  []ExtraBufferSpec `yaml:"extra_buffers"`
	Sync          *SyncSpec         `yaml:"sync"`
	SimulateDelay bool              `yaml:"simulate_delay"`
}

// ExtraBufferSpec describes one derived buffer fed from a reader result.
type ExtraBufferSpec struct {
	ReaderResultName string          `yaml:"reader_result_name"`
	Name             string          `yaml:"name"`
	Variety          string          `yaml:"variety"` // "numeric" (default), "signal"
	Transformers     []ClassSpec     `yaml:"transformers"`
}

// SyncSpec describes a reader's sync descriptor. Either BufferName+Filter
// (an own descriptor) or ReaderName (inheritance) is set, never both.
type SyncSpec struct {
	IsReference     bool   `yaml:"is_reference"`
	BufferName      string `yaml:"buffer_name"`
	Filter          string `yaml:"filter"`
	ReaderName      string `yaml:"reader_name"`
	PairingStrategy string `yaml:"pairing_strategy"` // "closest_in_time" (default) or "keyed"
	PairingKey      string `yaml:"pairing_key"`       // expression; required when pairing_strategy is "keyed"
}

// TrialsSpec describes the trials section: the delimiter, WRT marker, and
// the enhancer/collecter lists.
type TrialsSpec struct {
	StartBuffer string             `yaml:"start_buffer"`
	StartColumn int                `yaml:"start_column"`
	StartValue  float64            `yaml:"start_value"`
	WRTBuffer   string             `yaml:"wrt_buffer"`
	WRTColumn   int                `yaml:"wrt_column"`
	WRTValue    float64            `yaml:"wrt_value"`
	Enhancers   []EnhancerSpec     `yaml:"enhancers"`
	Collecters  []ClassSpec        `yaml:"collecters"`
}

// EnhancerSpec is an enhancer list entry: a class/args pair plus an
// optional when-predicate expression.
type EnhancerSpec struct {
	Class string `yaml:"class"`
	Args  Args   `yaml:"args"`
	When  string `yaml:"when"`
}

// Load reads and parses the document at path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, perrors.Wrapf(perrors.KindConfig, err, "config: read %s", path)
	}
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, perrors.Wrapf(perrors.KindConfig, err, "config: parse %s", path)
	}
	if doc.Experiment == nil {
		doc.Experiment = make(map[string]interface{})
	}
	return &doc, nil
}

// MergeSubject reads the subject metadata file at path and merges its
// top-level keys into the document's experiment mapping, per the
// --subject flag's contract. Subject keys win over experiment keys with
// the same name.
func (d *Document) MergeSubject(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return perrors.Wrapf(perrors.KindConfig, err, "config: read subject %s", path)
	}
	var subject map[string]interface{}
	if err := yaml.Unmarshal(data, &subject); err != nil {
		return perrors.Wrapf(perrors.KindConfig, err, "config: parse subject %s", path)
	}
	if d.Experiment == nil {
		d.Experiment = make(map[string]interface{})
	}
	for k, v := range subject {
		d.Experiment[k] = v
	}
	return nil
}

// ApplyOverrides applies --readers k=v flags of the form
// "reader_name.arg_name=value" to the matching reader's args bag. Values
// are parsed as a number or bool when they look like one, else kept as a
// string, mirroring the permissive parsing the rest of the document's
// scalar fields get from YAML.
func (d *Document) ApplyOverrides(overrides map[string]string) error {
	for k, raw := range overrides {
		dot := strings.IndexByte(k, '.')
		if dot < 0 {
			return perrors.New(perrors.KindConfig, fmt.Sprintf("config: override %q is not reader_name.arg_name", k))
		}
		readerName, argName := k[:dot], k[dot+1:]
		spec, ok := d.Readers[readerName]
		if !ok {
			return perrors.New(perrors.KindConfig, fmt.Sprintf("config: override references unknown reader %q", readerName))
		}
		if spec.Args == nil {
			spec.Args = make(Args)
		}
		spec.Args[argName] = parseOverrideValue(raw)
		d.Readers[readerName] = spec
	}
	return nil
}

func parseOverrideValue(raw string) interface{} {
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	return raw
}
