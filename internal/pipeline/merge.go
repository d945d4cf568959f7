package pipeline

import (
	"fmt"
	"strings"

	"go-tower-pipeline/internal/model"
)

// Well-known operator feeds.
const (
	SourceWikipedia = "wikipedia"
	SourceITU       = "itu"
)

// MergePolicy orders operator sources from lowest to highest precedence.
// Sources are folded in that order, so the last source wins key collisions.
type MergePolicy struct {
	Order []string
}

// DefaultMergePolicy folds the wikipedia table first and the ITU list last.
var DefaultMergePolicy = MergePolicy{Order: []string{SourceWikipedia, SourceITU}}

// PreferSource builds a policy in which winner overrides every other source.
// The remaining sources keep the given relative order.
func PreferSource(winner string, others ...string) MergePolicy {
	order := make([]string, 0, len(others)+1)
	for _, o := range others {
		if o != winner {
			order = append(order, o)
		}
	}
	return MergePolicy{Order: append(order, winner)}
}

// Winner returns the highest-precedence source.
func (p MergePolicy) Winner() string {
	if len(p.Order) == 0 {
		return ""
	}
	return p.Order[len(p.Order)-1]
}

func (p MergePolicy) rank() (map[string]int, error) {
	if len(p.Order) == 0 {
		return nil, fmt.Errorf("%w: empty source order", ErrInvalidPolicy)
	}
	rank := make(map[string]int, len(p.Order))
	for i, name := range p.Order {
		name = strings.TrimSpace(name)
		if _, dup := rank[name]; dup {
			return nil, fmt.Errorf("%w: %q in policy order", ErrDuplicateSource, name)
		}
		rank[name] = i
	}
	return rank, nil
}

// MergeOperators folds the labeled operator collections into a registry with
// one record per (mcc, mnc). Every source must be named in the policy, at
// most once; sources the policy names but the caller omits are skipped.
func MergeOperators(policy MergePolicy, sources ...model.LabeledOperators) (*model.Registry, error) {
	rank, err := policy.rank()
	if err != nil {
		return nil, err
	}

	ordered := make([]*model.LabeledOperators, len(policy.Order))
	for i := range sources {
		src := &sources[i]
		pos, ok := rank[strings.TrimSpace(src.Source)]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownSource, src.Source)
		}
		if ordered[pos] != nil {
			return nil, fmt.Errorf("%w: %q supplied twice", ErrDuplicateSource, src.Source)
		}
		ordered[pos] = src
	}

	merged := make(map[model.NetworkKey]model.OperatorRecord)
	for _, src := range ordered {
		if src == nil {
			continue
		}
		for _, op := range src.Records {
			merged[op.Key()] = op
		}
	}
	return model.NewRegistry(merged), nil
}
