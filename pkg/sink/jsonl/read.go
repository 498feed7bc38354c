package jsonl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vjranagit/trialpipe/pkg/buffer"
	"github.com/vjranagit/trialpipe/pkg/trial"
)

// ReadTrials reads every complete line of path back into Trial values. A
// final line with no trailing newline is a truncated, never-finished
// write and is silently dropped rather than surfaced as an error.
func ReadTrials(path string) ([]*trial.Trial, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jsonl: read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	complete := data
	if data[len(data)-1] != '\n' {
		if idx := bytes.LastIndexByte(data, '\n'); idx >= 0 {
			complete = data[:idx+1]
		} else {
			complete = nil
		}
	}

	var out []*trial.Trial
	for _, line := range bytes.Split(complete, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("jsonl: unmarshal line: %w", err)
		}
		out = append(out, fromRecord(rec))
	}
	return out, nil
}

func fromRecord(rec Record) *trial.Trial {
	var end *float64
	if rec.EndTime != nil {
		e := float64(*rec.EndTime)
		end = &e
	}
	t := trial.NewTrial(float64(rec.StartTime), end, float64(rec.WRTTime))

	for name, rows := range rec.NumericEvents {
		converted := make([]buffer.NumericRow, len(rows))
		for i, row := range rows {
			if len(row) == 0 {
				continue
			}
			v := make([]float64, len(row)-1)
			for j := 1; j < len(row); j++ {
				v[j-1] = float64(row[j])
			}
			converted[i] = buffer.NumericRow{T: float64(row[0]), V: v}
		}
		t.NumericEvents[name] = converted
	}

	for name, tr := range rec.TextEvents {
		rows := make([]buffer.TextRow, len(tr.TimestampData))
		for i := range tr.TimestampData {
			text := ""
			if i < len(tr.TextData) {
				text = tr.TextData[i]
			}
			rows[i] = buffer.TextRow{T: float64(tr.TimestampData[i]), Text: text}
		}
		t.TextEvents[name] = rows
	}

	for name, sr := range rec.Signals {
		if len(sr.SignalData) == 0 {
			t.SignalChannelIDs[name] = sr.ChannelIDs
			continue
		}
		rows := make([][]float64, len(sr.SignalData))
		for i, row := range sr.SignalData {
			r := make([]float64, len(row))
			for j, v := range row {
				r[j] = float64(v)
			}
			rows[i] = r
		}
		t.Signals[name] = []buffer.Chunk{{T0: float64(sr.FirstSampleTime), F: float64(sr.SampleFrequency), X: rows}}
		t.SignalChannelIDs[name] = sr.ChannelIDs
	}

	t.Enhancements = rec.Enhancements
	t.EnhancementCategories = rec.EnhancementCategories
	return t
}
