package bmap

import "testing"

func TestAndOrNot(t *testing.T) {
	a := FromValues(1, 4)
	b := FromValues(1, 2, 3, 4)

	and := And(a, b)
	if and.Cardinality() != 2 || !and.Contains(1) || !and.Contains(4) {
		t.Fatalf("unexpected AND result: %v", and.ToSlice())
	}

	or := Or(a, b)
	if or.Cardinality() != 4 {
		t.Fatalf("unexpected OR result: %v", or.ToSlice())
	}

	not := Not(a, 6)
	want := map[uint32]bool{0: true, 2: true, 3: true, 5: true}
	if int(not.Cardinality()) != len(want) {
		t.Fatalf("unexpected NOT cardinality: %v", not.ToSlice())
	}
	for v := range want {
		if !not.Contains(v) {
			t.Fatalf("expected NOT result to contain %d, got %v", v, not.ToSlice())
		}
	}
}

func TestSerializeRoundtrip(t *testing.T) {
	b := FromValues(2, 3, 4)
	data, err := b.Serialize()
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.Cardinality() != b.Cardinality() {
		t.Fatalf("roundtrip mismatch: %v vs %v", got.ToSlice(), b.ToSlice())
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := FromValues(1)
	clone := a.Clone()
	clone.Add(2)
	if a.Contains(2) {
		t.Fatalf("mutating clone affected original")
	}
}
