package model

import (
	"encoding/json"
	"math"
	"testing"
)

func TestValueString(t *testing.T) {
	cases := []struct {
		v    Value
		want string
	}{
		{Number(310), "310"},
		{Number(40.25), "40.25"},
		{Text("abc"), "abc"},
		{Text(""), ""},
	}
	for _, c := range cases {
		if got := c.v.String(); got != c.want {
			t.Errorf("String() = %q, want %q", got, c.want)
		}
	}
}

func TestValueMarshalJSON(t *testing.T) {
	data, err := json.Marshal([]Value{Number(310), Text("x"), Number(math.NaN())})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `[310,"x","NaN"]` {
		t.Fatalf("json = %s", data)
	}
	if Number(math.Inf(1)).IsFinite() || !Number(1).IsFinite() || Text("1").IsNumeric() {
		t.Fatalf("finiteness checks wrong")
	}
}

func TestNetworkKeyOrdering(t *testing.T) {
	keys := []NetworkKey{
		NewNetworkKey("310", "260"),
		NewNetworkKey("234", "10"),
		NewNetworkKey("310", "26"),
		NewNetworkKey("234", "2"),
	}
	SortNetworkKeys(keys)
	want := []string{"234-2", "234-10", "310-26", "310-260"}
	for i, k := range keys {
		if k.String() != want[i] {
			t.Fatalf("sorted = %v, want %v", keys, want)
		}
	}
	if !NewNetworkKey("234", "01").Less(NewNetworkKey("234", "1")) {
		t.Fatalf("equal numeric codes should fall back to text order")
	}
}

func TestNetworkKeyJSON(t *testing.T) {
	data, err := json.Marshal(NewNetworkKey("234", "015"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `["234","015"]` {
		t.Fatalf("json = %s", data)
	}

	for _, in := range []string{`["234","015"]`, `{"mcc":"234","mnc":"015"}`} {
		var k NetworkKey
		if err := json.Unmarshal([]byte(in), &k); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		if k != NewNetworkKey("234", "015") {
			t.Fatalf("unmarshal %s = %v", in, k)
		}
	}

	var k NetworkKey
	if err := json.Unmarshal([]byte(`[310, 260]`), &k); err != nil || k.String() != "310-260" {
		t.Fatalf("numeric pair = %v, %v", k, err)
	}
	if err := json.Unmarshal([]byte(`["1"]`), &k); err == nil {
		t.Fatalf("expected error for short pair")
	}
}

func TestRegistrySorted(t *testing.T) {
	src := map[NetworkKey]OperatorRecord{
		NewNetworkKey("310", "260"): {Operator: "Verizon Wireless", MCC: "310", MNC: "260"},
		NewNetworkKey("234", "10"):  {Operator: "EE", MCC: "234", MNC: "10"},
	}
	r := NewRegistry(src)
	delete(src, NewNetworkKey("234", "10"))

	if r.Len() != 2 {
		t.Fatalf("registry aliases its input")
	}
	sorted := r.Sorted()
	if sorted[0].Operator != "EE" || sorted[1].Operator != "Verizon Wireless" {
		t.Fatalf("sorted = %+v", sorted)
	}
	if _, ok := r.Get(NewNetworkKey("208", "1")); ok {
		t.Fatalf("unexpected hit")
	}
}

func TestClustersGroupsAndSize(t *testing.T) {
	c := Clusters{
		2: {{Lat: 1}},
		0: {{Lat: 2}, {Lat: 3}},
	}
	groups := c.Groups()
	if len(groups) != 2 || groups[0].Label != 0 || groups[1].Label != 2 {
		t.Fatalf("groups = %+v", groups)
	}
	if c.Size() != 3 {
		t.Fatalf("size = %d", c.Size())
	}
}

func TestTowerNetwork(t *testing.T) {
	tw := TowerRecord{MCC: Number(310), MNC: Text("260")}
	if tw.Network() != NewNetworkKey("310", "260") {
		t.Fatalf("network = %v", tw.Network())
	}
}
