package domain

import (
	"bytes"
	"testing"
)

func TestCalibrationBlobLayout(t *testing.T) {
	blob := CalibrationBlob{SubCmd: CalSubSet, Calibrated: CalibratedTrue, Data: []byte{9, 8, 7}}
	raw, err := blob.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := []byte{1, 100, 3, 9, 8, 7}
	if !bytes.Equal(raw, want) {
		t.Fatalf("expected %v, got %v", want, raw)
	}

	var back CalibrationBlob
	if err := back.UnmarshalBinary(append(raw, 0xEE)); err != nil {
		t.Fatalf("unmarshal with trailing byte: %v", err)
	}
	if !back.IsCalibrated() || !bytes.Equal(back.Data, blob.Data) {
		t.Fatalf("unexpected blob %+v", back)
	}
}

func TestCalibrationBlobRejectsTruncated(t *testing.T) {
	var b CalibrationBlob
	if err := b.UnmarshalBinary([]byte{1, 100, 4, 1}); err == nil {
		t.Fatalf("expected truncated blob to fail")
	}
	if err := b.UnmarshalBinary(nil); err != nil || !b.Empty() {
		t.Fatalf("expected empty input to decode as empty blob, got %+v err=%v", b, err)
	}
	if _, err := (CalibrationBlob{Data: make([]byte, MaxCalibrationData+1)}).MarshalBinary(); err == nil {
		t.Fatalf("expected oversized blob to fail")
	}
}

func TestCompositeEventValidate(t *testing.T) {
	ok := CompositeEvent{Relation: RelationOr, Clauses: []EventClause{{ResourceID: 1, Channel: ChannelAll, Op: OpBetween}}}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}

	bad := []CompositeEvent{
		{Relation: 2, Clauses: ok.Clauses},
		{Relation: RelationAnd},
		{Clauses: []EventClause{{Channel: 0}}},
		{Clauses: []EventClause{{Channel: 8}}},
		{Clauses: []EventClause{{Channel: ChannelX, Op: 4}}},
	}
	for i, ev := range bad {
		if err := ev.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestClampRate(t *testing.T) {
	bounded := ResourceDescriptor{FreqMax: 50}
	if got := bounded.ClampRate(100); got != 50 {
		t.Fatalf("expected clamp to 50, got %d", got)
	}
	unbounded := ResourceDescriptor{FreqMax: -1}
	if got := unbounded.ClampRate(100); got != 100 {
		t.Fatalf("expected unbounded rate 100, got %d", got)
	}
}
