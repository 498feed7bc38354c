// Package jsonl implements the line-delimited JSON trial sink: one JSON
// object per line, append-only, crash-consistent by construction (a line
// without its trailing newline was never fully written).
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/vjranagit/trialpipe/internal/perrors"
	"github.com/vjranagit/trialpipe/internal/tscodec"
	"github.com/vjranagit/trialpipe/pkg/buffer"
	"github.com/vjranagit/trialpipe/pkg/trial"
)

// num marshals as a JSON number, or null for NaN/Inf, per the sink's
// contract that unrepresentable floats never reach the wire as numbers.
type num float64

// MarshalJSON implements json.Marshaler.
func (n num) MarshalJSON() ([]byte, error) {
	if tscodec.IsNaNOrInf(float64(n)) {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(float64(n), 'g', -1, 64)), nil
}

// Record is the on-disk shape of one trial, matching the field list the
// sink contract specifies.
type Record struct {
	StartTime             num                     `json:"start_time"`
	EndTime               *num                    `json:"end_time"`
	WRTTime               num                     `json:"wrt_time"`
	NumericEvents         map[string][][]num      `json:"numeric_events"`
	TextEvents            map[string]textRecord   `json:"text_events"`
	Signals               map[string]signalRecord `json:"signals"`
	Enhancements          map[string]interface{}  `json:"enhancements"`
	EnhancementCategories map[string][]string     `json:"enhancement_categories"`
}

type textRecord struct {
	TimestampData []num    `json:"timestamp_data"`
	TextData      []string `json:"text_data"`
}

type signalRecord struct {
	SignalData      [][]num  `json:"signal_data"`
	SampleFrequency num      `json:"sample_frequency"`
	FirstSampleTime num      `json:"first_sample_time"`
	ChannelIDs      []string `json:"channel_ids"`
}

// Sink writes trials to an append-only line-delimited JSON file.
type Sink struct {
	path string
	f    *os.File
	w    *bufio.Writer
}

// Open creates or appends to the JSON-lines file at path.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("jsonl: open %s: %w", path, err)
	}
	return &Sink{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// EmitTrial implements trial.Sink. The line is written and flushed in one
// call; if the process dies mid-write, the reader-side crash-consistency
// check (no trailing newline) catches the truncated tail. The write is
// retried once on failure; only a second consecutive failure is wrapped as
// KindSinkFailure, per perrors.Retry's single-retry contract.
func (s *Sink) EmitTrial(t *trial.Trial, trialIndex int) error {
	return perrors.Retry(perrors.KindSinkFailure, fmt.Sprintf("jsonl: emit trial %d", trialIndex), func() error {
		return s.emitTrialOnce(t, trialIndex)
	})
}

func (s *Sink) emitTrialOnce(t *trial.Trial, trialIndex int) error {
	rec := toRecord(t)
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal trial %d: %w", trialIndex, err)
	}
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("write trial %d: %w", trialIndex, err)
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("write trial %d: %w", trialIndex, err)
	}
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.f.Close()
}

// UpdateEnhancements implements the collecter rewrite instruction. The
// line-delimited format has no in-place update, so the whole file is
// rewritten through a temp file and renamed into place, then this Sink's
// append handle is reopened at the new end.
func (s *Sink) UpdateEnhancements(trialIndex int, enhancements map[string]interface{}, categories map[string][]string) error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("jsonl: flush before rewrite: %w", err)
	}

	trials, err := ReadTrials(s.path)
	if err != nil {
		return fmt.Errorf("jsonl: read before rewrite: %w", err)
	}
	if trialIndex < 0 || trialIndex >= len(trials) {
		return fmt.Errorf("jsonl: trial %d out of range (have %d)", trialIndex, len(trials))
	}
	trials[trialIndex].Enhancements = enhancements
	trials[trialIndex].EnhancementCategories = categories

	tmpPath := s.path + ".tmp"
	tf, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("jsonl: create rewrite temp file: %w", err)
	}
	w := bufio.NewWriter(tf)
	for _, t := range trials {
		line, err := json.Marshal(toRecord(t))
		if err != nil {
			tf.Close()
			return fmt.Errorf("jsonl: marshal during rewrite: %w", err)
		}
		if _, err := w.Write(line); err != nil {
			tf.Close()
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			tf.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tf.Close()
		return err
	}
	if err := tf.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("jsonl: rename rewrite temp file: %w", err)
	}

	if err := s.f.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("jsonl: reopen after rewrite: %w", err)
	}
	s.f = f
	s.w = bufio.NewWriter(f)
	return nil
}

// WriteSummary writes a collecter-produced run summary to a sidecar file
// next to the trial file, keeping the jsonl stream itself trial-only.
func (s *Sink) WriteSummary(summary map[string]interface{}) error {
	data, err := json.Marshal(sanitizeInf(summary))
	if err != nil {
		return fmt.Errorf("jsonl: marshal summary: %w", err)
	}
	return os.WriteFile(s.path+".summary.json", data, 0o644)
}

// sanitizeInf walks a dynamically-typed value (as produced by enhancers and
// collecters) and replaces any NaN/Inf float64 with nil, so it reaches
// encoding/json in a representable form, per the same contract num enforces
// for the sink's fixed fields.
func sanitizeInf(v interface{}) interface{} {
	switch x := v.(type) {
	case float64:
		if tscodec.IsNaNOrInf(x) {
			return nil
		}
		return x
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = sanitizeInf(e)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = sanitizeInf(e)
		}
		return out
	default:
		return v
	}
}

func toRecord(t *trial.Trial) Record {
	rec := Record{
		StartTime:             num(t.StartTime),
		WRTTime:                num(t.WRTTime),
		NumericEvents:         make(map[string][][]num, len(t.NumericEvents)),
		TextEvents:            make(map[string]textRecord, len(t.TextEvents)),
		Signals:               make(map[string]signalRecord, len(t.Signals)),
		Enhancements:          sanitizeInf(t.Enhancements).(map[string]interface{}),
		EnhancementCategories: t.EnhancementCategories,
	}
	if t.EndTime != nil {
		e := num(*t.EndTime)
		rec.EndTime = &e
	}

	for name, rows := range t.NumericEvents {
		out := make([][]num, len(rows))
		for i, r := range rows {
			row := make([]num, 1+len(r.V))
			row[0] = num(r.T)
			for j, v := range r.V {
				row[j+1] = num(v)
			}
			out[i] = row
		}
		rec.NumericEvents[name] = out
	}

	for name, rows := range t.TextEvents {
		ts := make([]num, len(rows))
		texts := make([]string, len(rows))
		for i, r := range rows {
			ts[i] = num(r.T)
			texts[i] = r.Text
		}
		rec.TextEvents[name] = textRecord{TimestampData: ts, TextData: texts}
	}

	for name, chunks := range t.Signals {
		rec.Signals[name] = flattenChunks(chunks, t.SignalChannelIDs[name])
	}

	return rec
}

// flattenChunks concatenates a trial's (typically single) chunk sequence
// into one 2D array, matching the sink's flat signal_data contract. Gaps
// between non-adjacent chunks are not represented; callers needing exact
// gap fidelity should keep to one chunk per trial window.
func flattenChunks(chunks []buffer.Chunk, channelIDs []string) signalRecord {
	if len(chunks) == 0 {
		return signalRecord{ChannelIDs: channelIDs}
	}
	var data [][]num
	for _, c := range chunks {
		for _, row := range c.X {
			r := make([]num, len(row))
			for i, v := range row {
				r[i] = num(v)
			}
			data = append(data, r)
		}
	}
	return signalRecord{
		SignalData:      data,
		SampleFrequency: num(chunks[0].F),
		FirstSampleTime: num(chunks[0].T0),
		ChannelIDs:      channelIDs,
	}
}
