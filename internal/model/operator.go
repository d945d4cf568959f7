package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// NetworkKey is the (mcc, mnc) pair identifying a mobile network.
type NetworkKey struct {
	MCC string `json:"mcc"`
	MNC string `json:"mnc"`
}

// NewNetworkKey trims both codes. Leading zeros are kept: "01" and "001" are
// different networks.
func NewNetworkKey(mcc, mnc string) NetworkKey {
	return NetworkKey{MCC: strings.TrimSpace(mcc), MNC: strings.TrimSpace(mnc)}
}

func (k NetworkKey) String() string {
	return k.MCC + "-" + k.MNC
}

// Less orders keys by mcc then mnc, numerically where both sides are integers.
func (k NetworkKey) Less(o NetworkKey) bool {
	if k.MCC != o.MCC {
		return codeLess(k.MCC, o.MCC)
	}
	return codeLess(k.MNC, o.MNC)
}

// MarshalJSON writes the key as a [mcc, mnc] pair.
func (k NetworkKey) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{k.MCC, k.MNC})
}

// UnmarshalJSON accepts a [mcc, mnc] pair or an {"mcc":..,"mnc":..} object.
func (k *NetworkKey) UnmarshalJSON(data []byte) error {
	var pair []json.Number
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("network key: want 2 elements, got %d", len(pair))
		}
		*k = NewNetworkKey(pair[0].String(), pair[1].String())
		return nil
	}
	var strPair []string
	if err := json.Unmarshal(data, &strPair); err == nil {
		if len(strPair) != 2 {
			return fmt.Errorf("network key: want 2 elements, got %d", len(strPair))
		}
		*k = NewNetworkKey(strPair[0], strPair[1])
		return nil
	}
	var obj struct {
		MCC string `json:"mcc"`
		MNC string `json:"mnc"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("network key: %w", err)
	}
	*k = NewNetworkKey(obj.MCC, obj.MNC)
	return nil
}

func codeLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil && ai != bi {
		return ai < bi
	}
	return a < b
}

// SortNetworkKeys sorts keys in place.
func SortNetworkKeys(keys []NetworkKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// OperatorRecord is one mobile-network operator entry.
type OperatorRecord struct {
	Operator string `json:"operator"`
	Brand    string `json:"brand"`
	MCC      string `json:"mcc"`
	MNC      string `json:"mnc"`
}

// Key returns the operator's identity key. The name is not part of it, since
// feeds spell the same operator differently.
func (o OperatorRecord) Key() NetworkKey {
	return NewNetworkKey(o.MCC, o.MNC)
}

// LabeledOperators is one feed's operators, tagged with the feed name.
type LabeledOperators struct {
	Source  string           `json:"source"`
	Records []OperatorRecord `json:"records"`
}

// Registry is the deduplicated operator set: one record per identity key.
type Registry struct {
	byKey map[NetworkKey]OperatorRecord
}

// NewRegistry wraps a key→record mapping. The map is copied.
func NewRegistry(m map[NetworkKey]OperatorRecord) *Registry {
	byKey := make(map[NetworkKey]OperatorRecord, len(m))
	for k, v := range m {
		byKey[k] = v
	}
	return &Registry{byKey: byKey}
}

func (r *Registry) Len() int { return len(r.byKey) }

// Get returns the record stored for key.
func (r *Registry) Get(key NetworkKey) (OperatorRecord, bool) {
	rec, ok := r.byKey[key]
	return rec, ok
}

// Sorted returns the records ordered by identity key, for stable output.
func (r *Registry) Sorted() []OperatorRecord {
	keys := make([]NetworkKey, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	SortNetworkKeys(keys)

	out := make([]OperatorRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.byKey[k])
	}
	return out
}
