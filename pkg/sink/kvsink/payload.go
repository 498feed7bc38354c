package kvsink

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"
	"github.com/vjranagit/trialpipe/internal/tscodec"
	"github.com/vjranagit/trialpipe/pkg/buffer"
	"github.com/vjranagit/trialpipe/pkg/trial"
)

// attrsPayload is the trial/<idx>/attrs record: everything needed to know
// what a trial contains and where its other keys live, plus the fields a
// collecter is allowed to rewrite. Its presence is the crash-consistency
// marker: a trial missing this key was never fully written.
type attrsPayload struct {
	StartTime             float64                `json:"start_time"`
	EndTime               *float64               `json:"end_time"`
	WRTTime               float64                `json:"wrt_time"`
	NumericNames          []string               `json:"numeric_names"`
	TextNames             []string               `json:"text_names"`
	SignalNames           []string               `json:"signal_names"`
	SignalChannelIDs      map[string][]string    `json:"signal_channel_ids"`
	Enhancements          map[string]interface{} `json:"enhancements"`
	EnhancementCategories map[string][]string    `json:"enhancement_categories"`
	Checksum              uint64                 `json:"checksum"`
}

// numericPayload is one trial/<idx>/numeric_events/<name> record: a
// delta-encoded, zstd-compressed timestamp column and value matrix.
type numericPayload struct {
	Count      int    `json:"count"`
	Arity      int    `json:"arity"`
	Timestamps []byte `json:"timestamps"`
	Values     []byte `json:"values"`
}

// textPayload is one trial/<idx>/text_events/<name> record. Text data
// does not compress well under delta encoding, so only the timestamp
// column goes through tscodec.
type textPayload struct {
	Count      int      `json:"count"`
	Timestamps []byte   `json:"timestamps"`
	Text       []string `json:"text"`
}

// signalPayload is one trial/<idx>/signals/<name> record, the
// concatenation of the trial's (typically single) chunk sequence for that
// buffer, matching the jsonl sink's flattening convention.
type signalPayload struct {
	T0         float64  `json:"t0"`
	F          float64  `json:"f"`
	N          int      `json:"n"`
	Channels   int      `json:"channels"`
	ChannelIDs []string `json:"channel_ids"`
	Data       []byte   `json:"data"`
}

// trialPayload is the single WAL-logged blob for one EmitTrial call; it is
// the unit that gets replayed into badger on restart.
type trialPayload struct {
	TrialIndex int                        `json:"trial_index"`
	Attrs      attrsPayload               `json:"attrs"`
	Numeric    map[string]numericPayload  `json:"numeric"`
	Text       map[string]textPayload     `json:"text"`
	Signals    map[string]signalPayload   `json:"signals"`
}

func encodeTrial(codec *tscodec.Codec, t *trial.Trial, trialIndex int) (trialPayload, error) {
	p := trialPayload{
		TrialIndex: trialIndex,
		Numeric:    make(map[string]numericPayload, len(t.NumericEvents)),
		Text:       make(map[string]textPayload, len(t.TextEvents)),
		Signals:    make(map[string]signalPayload, len(t.Signals)),
	}

	for name, rows := range t.NumericEvents {
		arity := 0
		if len(rows) > 0 {
			arity = len(rows[0].V)
		}
		ts := make([]float64, len(rows))
		vals := make([][]float64, len(rows))
		for i, r := range rows {
			ts[i] = r.T
			vals[i] = r.V
		}
		tsEnc, err := codec.EncodeFloats(ts)
		if err != nil {
			return trialPayload{}, err
		}
		valEnc, err := codec.EncodeMatrix(vals)
		if err != nil {
			return trialPayload{}, err
		}
		p.Numeric[name] = numericPayload{Count: len(rows), Arity: arity, Timestamps: tsEnc, Values: valEnc}
		p.Attrs.NumericNames = append(p.Attrs.NumericNames, name)
	}

	for name, rows := range t.TextEvents {
		ts := make([]float64, len(rows))
		texts := make([]string, len(rows))
		for i, r := range rows {
			ts[i] = r.T
			texts[i] = r.Text
		}
		tsEnc, err := codec.EncodeFloats(ts)
		if err != nil {
			return trialPayload{}, err
		}
		p.Text[name] = textPayload{Count: len(rows), Timestamps: tsEnc, Text: texts}
		p.Attrs.TextNames = append(p.Attrs.TextNames, name)
	}

	p.Attrs.SignalChannelIDs = make(map[string][]string, len(t.Signals))
	for name, chunks := range t.Signals {
		var t0, f float64
		var data [][]float64
		for _, c := range chunks {
			if len(data) == 0 {
				t0, f = c.T0, c.F
			}
			data = append(data, c.X...)
		}
		dataEnc, err := codec.EncodeMatrix(data)
		if err != nil {
			return trialPayload{}, err
		}
		channels := 0
		if len(data) > 0 {
			channels = len(data[0])
		}
		ids := t.SignalChannelIDs[name]
		p.Signals[name] = signalPayload{T0: t0, F: f, N: len(data), Channels: channels, ChannelIDs: ids, Data: dataEnc}
		p.Attrs.SignalNames = append(p.Attrs.SignalNames, name)
		p.Attrs.SignalChannelIDs[name] = ids
	}

	p.Attrs.StartTime = t.StartTime
	p.Attrs.EndTime = t.EndTime
	p.Attrs.WRTTime = t.WRTTime
	p.Attrs.Enhancements = t.Enhancements
	p.Attrs.EnhancementCategories = t.EnhancementCategories

	datasets, err := json.Marshal(struct {
		Numeric map[string]numericPayload `json:"numeric"`
		Text    map[string]textPayload    `json:"text"`
		Signals map[string]signalPayload  `json:"signals"`
	}{p.Numeric, p.Text, p.Signals})
	if err != nil {
		return trialPayload{}, err
	}
	p.Attrs.Checksum = xxhash.Sum64(datasets)
	return p, nil
}

func decodeTrial(codec *tscodec.Codec, attrs attrsPayload, numeric map[string]numericPayload, text map[string]textPayload, signals map[string]signalPayload) (*trial.Trial, error) {
	t := trial.NewTrial(attrs.StartTime, attrs.EndTime, attrs.WRTTime)

	for name, np := range numeric {
		ts, err := codec.DecodeFloats(np.Timestamps, np.Count)
		if err != nil {
			return nil, err
		}
		vals, err := codec.DecodeMatrix(np.Values, np.Count, np.Arity)
		if err != nil {
			return nil, err
		}
		rows := make([]buffer.NumericRow, np.Count)
		for i := 0; i < np.Count; i++ {
			v := make([]float64, np.Arity)
			if i < len(vals) {
				copy(v, vals[i])
			}
			rows[i] = buffer.NumericRow{T: ts[i], V: v}
		}
		t.NumericEvents[name] = rows
	}

	for name, tp := range text {
		ts, err := codec.DecodeFloats(tp.Timestamps, tp.Count)
		if err != nil {
			return nil, err
		}
		rows := make([]buffer.TextRow, tp.Count)
		for i := 0; i < tp.Count; i++ {
			text := ""
			if i < len(tp.Text) {
				text = tp.Text[i]
			}
			rows[i] = buffer.TextRow{T: ts[i], Text: text}
		}
		t.TextEvents[name] = rows
	}

	for name, sp := range signals {
		x, err := codec.DecodeMatrix(sp.Data, sp.N, sp.Channels)
		if err != nil {
			return nil, err
		}
		if sp.N > 0 {
			t.Signals[name] = []buffer.Chunk{{T0: sp.T0, F: sp.F, X: x}}
		}
		t.SignalChannelIDs[name] = sp.ChannelIDs
	}

	t.Enhancements = attrs.Enhancements
	t.EnhancementCategories = attrs.EnhancementCategories
	return t, nil
}
