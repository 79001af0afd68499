package canon

import "testing"

func TestHashOfKeyOrderInsensitive(t *testing.T) {
	a := map[string]any{"topic": "t", "n": 1}
	b := map[string]any{"n": 1, "topic": "t"}

	ha, err := HashOf(a)
	if err != nil {
		t.Fatal(err)
	}
	hb, err := HashOf(b)
	if err != nil {
		t.Fatal(err)
	}
	if ha != hb {
		t.Errorf("expected equal hashes for key-reordered maps, got %q vs %q", ha, hb)
	}
}

func TestHashOfArrayOrderSensitive(t *testing.T) {
	a := []int{1, 2, 3}
	b := []int{3, 2, 1}

	ha, _ := HashOf(a)
	hb, _ := HashOf(b)
	if ha == hb {
		t.Error("expected different hashes for reordered arrays")
	}
}

func TestHashOfDeepEqualValues(t *testing.T) {
	type nested struct {
		Params map[string]any `json:"params"`
		Tags   []string       `json:"tags"`
	}
	a := nested{Params: map[string]any{"x": 1.0, "y": 2.0}, Tags: []string{"a", "b"}}
	b := nested{Params: map[string]any{"y": 2.0, "x": 1.0}, Tags: []string{"a", "b"}}

	ha, _ := HashOf(a)
	hb, _ := HashOf(b)
	if ha != hb {
		t.Errorf("expected equal hashes for deep-equal nested values, got %q vs %q", ha, hb)
	}
}

func TestHashOfDistinguishesValues(t *testing.T) {
	ha, _ := HashOf(map[string]any{"topic": "t1"})
	hb, _ := HashOf(map[string]any{"topic": "t2"})
	if ha == hb {
		t.Error("expected different hashes for different values")
	}
}
