// Package codec decodes the JSON payloads sensors publish over MQTT into a
// normalized reading plus an optional recovery batch.
//
// A primary payload looks like:
//
//	{"timestamp":1700000000,"value":[21.3],"sequence":5}
//
// Sensors that reconnected after buffering offline readings attach a recovery
// batch of co-indexed arrays:
//
//	{"timestamp":1700000300,"value":[null],"sequence":null,
//	 "meta":{"t":[1700000060,1700000120],"v":[20.9,21.1],"s":[2,3]}}
//
// A meta object whose entries are all null is normalized to "no recovery
// event" so callers only ever deal with one falsy representation.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/deadmade/isopruefi-ingest/internal/model"
)

// Message is the decoded form of one broker payload.
type Message struct {
	Reading model.Reading
	// Recovery is nil when the payload carried no usable backfill batch.
	Recovery []model.Reading
	// ValueCount is the number of entries the producer packed into the
	// primary value array. The pipeline only ever consumes the first.
	ValueCount int
}

type sensorPayload struct {
	Timestamp FlexInt64    `json:"timestamp"`
	Value     valueList    `json:"value"`
	Sequence  *FlexInt64   `json:"sequence"`
	Meta      *metaPayload `json:"meta,omitempty"`
}

type metaPayload struct {
	Timestamps []*FlexInt64   `json:"t"`
	Values     []*FlexFloat64 `json:"v"`
	Sequences  []*FlexInt64   `json:"s"`
}

// valueList accepts the primary value both as a bare number and as an array
// of nullable numbers.
type valueList []*FlexFloat64

func (v *valueList) UnmarshalJSON(b []byte) error {
	t := bytes.TrimSpace(b)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) {
		*v = nil
		return nil
	}
	if t[0] == '[' {
		var list []*FlexFloat64
		if err := json.Unmarshal(t, &list); err != nil {
			return err
		}
		*v = list
		return nil
	}
	var single FlexFloat64
	if err := json.Unmarshal(t, &single); err != nil {
		return err
	}
	*v = valueList{&single}
	return nil
}

func (v valueList) MarshalJSON() ([]byte, error) {
	return json.Marshal([]*FlexFloat64(v))
}

// Decode parses one broker payload. Errors are per-message: the caller logs
// and drops, the subscription loop keeps running.
func Decode(payload []byte) (*Message, error) {
	var p sensorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode sensor payload: %w", err)
	}

	msg := &Message{
		Reading: model.Reading{
			Timestamp: int64(p.Timestamp),
			Value:     floatPtr(first(p.Value)),
			Sequence:  intPtr(p.Sequence),
		},
		ValueCount: len(p.Value),
	}
	msg.Recovery = normalizeRecovery(p.Meta)
	return msg, nil
}

// Encode serializes a reading back to the wire shape. Used by tests and the
// load seeder; the ingestion path itself never publishes.
func Encode(r model.Reading) ([]byte, error) {
	p := sensorPayload{Timestamp: FlexInt64(r.Timestamp)}
	if r.Value != nil {
		f := FlexFloat64(*r.Value)
		p.Value = valueList{&f}
	}
	if r.Sequence != nil {
		s := FlexInt64(*r.Sequence)
		p.Sequence = &s
	}
	return json.Marshal(p)
}

// normalizeRecovery turns the co-indexed meta arrays into readings. A meta
// that is missing, empty, or all-null collapses to nil.
func normalizeRecovery(m *metaPayload) []model.Reading {
	if m == nil {
		return nil
	}
	n := len(m.Timestamps)
	if len(m.Values) > n {
		n = len(m.Values)
	}
	if len(m.Sequences) > n {
		n = len(m.Sequences)
	}
	if n == 0 {
		return nil
	}

	readings := make([]model.Reading, 0, n)
	empty := true
	for i := 0; i < n; i++ {
		ts := at(m.Timestamps, i)
		val := at(m.Values, i)
		seq := at(m.Sequences, i)
		if ts == nil && val == nil && seq == nil {
			continue
		}
		empty = false
		r := model.Reading{Value: floatPtr(val), Sequence: intPtr(seq)}
		if ts != nil {
			r.Timestamp = int64(*ts)
		}
		readings = append(readings, r)
	}
	if empty {
		return nil
	}
	return readings
}

func first(v valueList) *FlexFloat64 {
	if len(v) == 0 {
		return nil
	}
	return v[0]
}

func at[T any](s []*T, i int) *T {
	if i >= len(s) {
		return nil
	}
	return s[i]
}

func floatPtr(f *FlexFloat64) *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	return &v
}

func intPtr(f *FlexInt64) *int {
	if f == nil {
		return nil
	}
	v := int(*f)
	return &v
}
