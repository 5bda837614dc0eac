package persistence

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/sanonone/kektorrag/pkg/core/distance"
	"github.com/sanonone/kektorrag/pkg/core/types"
)

// wireRecord is the msgpack shape of a stored record. Exactly one of F32 and
// F16 is set, depending on the precision the record was written with, so a
// store can be reopened with a different precision setting.
type wireRecord struct {
	ID       string         `msgpack:"id"`
	F32      []float32      `msgpack:"f32,omitempty"`
	F16      []uint16       `msgpack:"f16,omitempty"`
	Metadata types.Metadata `msgpack:"meta"`
}

// Codec turns records into framed msgpack values and back.
type Codec struct {
	precision distance.PrecisionType
}

// NewCodec returns a codec writing vectors at the given precision.
// An empty precision means float32.
func NewCodec(p distance.PrecisionType) Codec {
	if p == "" {
		p = distance.Float32
	}
	return Codec{precision: p}
}

// Precision returns the precision used for writes.
func (c Codec) Precision() distance.PrecisionType {
	return c.precision
}

// Quantize returns vec as it reads back after being written at this precision.
func (c Codec) Quantize(vec []float32) []float32 {
	if c.precision == distance.Float16 {
		return distance.FromFloat16(distance.ToFloat16(vec))
	}
	return vec
}

func (c Codec) toWire(rec types.Record) wireRecord {
	w := wireRecord{ID: rec.ID, Metadata: rec.Metadata}
	if c.precision == distance.Float16 {
		w.F16 = distance.ToFloat16(rec.Vector)
	} else {
		w.F32 = rec.Vector
	}
	return w
}

func fromWire(w wireRecord) types.Record {
	rec := types.Record{ID: w.ID, Metadata: w.Metadata, Vector: w.F32}
	if len(w.F16) > 0 {
		rec.Vector = distance.FromFloat16(w.F16)
	}
	if rec.Vector == nil {
		rec.Vector = []float32{}
	}
	return rec
}

// Encode returns rec as a single CRC32 frame.
func (c Codec) Encode(rec types.Record) ([]byte, error) {
	payload, err := msgpack.Marshal(c.toWire(rec))
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return frameBytes(OpRecord, payload), nil
}

// Decode parses a frame produced by Encode.
func (c Codec) Decode(data []byte) (types.Record, error) {
	op, payload, err := unframeBytes(data)
	if err != nil {
		return types.Record{}, err
	}
	if op != OpRecord {
		return types.Record{}, fmt.Errorf("unexpected frame opcode 0x%02x", op)
	}
	var w wireRecord
	if err := msgpack.Unmarshal(payload, &w); err != nil {
		return types.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return fromWire(w), nil
}

// aofOp is the payload of an AOF frame.
type aofOp struct {
	Records []wireRecord `msgpack:"records,omitempty"`
	IDs     []string     `msgpack:"ids,omitempty"`
}

func (c Codec) encodePut(recs []types.Record) ([]byte, error) {
	op := aofOp{Records: make([]wireRecord, len(recs))}
	for i, rec := range recs {
		op.Records[i] = c.toWire(rec)
	}
	return msgpack.Marshal(op)
}

func encodeDelete(ids []string) ([]byte, error) {
	return msgpack.Marshal(aofOp{IDs: ids})
}

func decodeOp(payload []byte) (aofOp, error) {
	var op aofOp
	if len(payload) == 0 {
		return op, nil
	}
	err := msgpack.Unmarshal(payload, &op)
	return op, err
}
