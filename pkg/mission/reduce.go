package mission

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/meridian-labs/surveyor/pkg/models"
)

// Member pairs an instance id with its output record, in sub-stage member
// order. Reducers receive members in that order and all order-sensitive
// behaviour (merge order, tie-breaks) follows it.
type Member struct {
	InstanceID string
	Output     *models.OutputRecord
}

// Scorer ranks best_of candidates and returns the index of the winner.
type Scorer interface {
	Score(ctx context.Context, members []Member) (int, error)
}

// Clusterer maps a finding to a cluster key for consensus aggregation.
// Findings with equal keys count as the same claim.
type Clusterer interface {
	Key(f models.Finding) string
}

// Reducer combines the outputs of a sub-stage's member instances according
// to the sub-stage's aggregation mode.
type Reducer struct {
	scorer    Scorer
	clusterer Clusterer
}

// NewReducer creates a reducer. The scorer is only needed for best_of
// sub-stages and may be nil otherwise; a nil clusterer selects the lexical
// default.
func NewReducer(scorer Scorer, clusterer Clusterer) *Reducer {
	if clusterer == nil {
		clusterer = LexicalClusterer{}
	}
	return &Reducer{scorer: scorer, clusterer: clusterer}
}

// Reduce combines member outputs. Members must be in sub-stage declaration
// order. An empty aggregation resolves to merge_all.
func (r *Reducer) Reduce(ctx context.Context, mode Aggregation, members []Member) (*models.OutputRecord, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("reduce requires at least one member output")
	}
	for _, m := range members {
		if m.Output == nil {
			return nil, fmt.Errorf("reduce member %q has no output record", m.InstanceID)
		}
	}

	switch mode {
	case AggregationMergeAll, "":
		return mergeAll(members), nil
	case AggregationBestOf:
		return r.bestOf(ctx, members)
	case AggregationConsensus:
		return r.consensus(members), nil
	default:
		return nil, fmt.Errorf("unknown output_aggregation %q", mode)
	}
}

// mergeAll concatenates findings, entities, and file refs in member order.
// Completed objectives are deduplicated keeping first occurrence, since
// several members often share objectives.
func mergeAll(members []Member) *models.OutputRecord {
	out := &models.OutputRecord{}
	seenObjectives := make(map[string]bool)
	for _, m := range members {
		for _, obj := range m.Output.ObjectivesCompleted {
			if !seenObjectives[obj] {
				seenObjectives[obj] = true
				out.ObjectivesCompleted = append(out.ObjectivesCompleted, obj)
			}
		}
		out.Findings = append(out.Findings, m.Output.Findings...)
		out.EntitiesDiscovered = append(out.EntitiesDiscovered, m.Output.EntitiesDiscovered...)
		out.FileRefs = append(out.FileRefs, m.Output.FileRefs...)
	}
	return out
}

// bestOf carries through the single member output the scorer ranks highest.
func (r *Reducer) bestOf(ctx context.Context, members []Member) (*models.OutputRecord, error) {
	if r.scorer == nil {
		return nil, fmt.Errorf("best_of aggregation requires a scorer")
	}
	winner, err := r.scorer.Score(ctx, members)
	if err != nil {
		return nil, fmt.Errorf("best_of scoring failed: %w", err)
	}
	if winner < 0 || winner >= len(members) {
		return nil, fmt.Errorf("scorer returned index %d for %d members", winner, len(members))
	}
	return members[winner].Output, nil
}

// consensus keeps the findings a strict majority of members agree on,
// clustering by the configured key function. The emitted representative of
// each cluster is its earliest occurrence, so ties break toward earlier
// instance order. Entities follow the same majority rule with exact-match
// keys; file refs and objectives are unioned, since they are evidence
// bookkeeping rather than claims.
func (r *Reducer) consensus(members []Member) *models.OutputRecord {
	majority := len(members)/2 + 1

	type findingCluster struct {
		representative models.Finding
		supporters     map[int]bool
		firstMember    int
		firstPos       int
	}
	clusters := make(map[string]*findingCluster)
	var clusterOrder []*findingCluster

	for mi, m := range members {
		for pos, f := range m.Output.Findings {
			key := r.clusterer.Key(f)
			c, ok := clusters[key]
			if !ok {
				c = &findingCluster{
					representative: f,
					supporters:     make(map[int]bool),
					firstMember:    mi,
					firstPos:       pos,
				}
				clusters[key] = c
				clusterOrder = append(clusterOrder, c)
			}
			c.supporters[mi] = true
		}
	}

	out := &models.OutputRecord{}
	for _, c := range clusterOrder {
		if len(c.supporters) >= majority {
			out.Findings = append(out.Findings, c.representative)
		}
	}

	entitySupport := make(map[string]map[int]bool)
	var entityOrder []string
	seenObjectives := make(map[string]bool)
	seenRefs := make(map[string]bool)
	for mi, m := range members {
		for _, e := range m.Output.EntitiesDiscovered {
			if entitySupport[e] == nil {
				entitySupport[e] = make(map[int]bool)
				entityOrder = append(entityOrder, e)
			}
			entitySupport[e][mi] = true
		}
		for _, obj := range m.Output.ObjectivesCompleted {
			if !seenObjectives[obj] {
				seenObjectives[obj] = true
				out.ObjectivesCompleted = append(out.ObjectivesCompleted, obj)
			}
		}
		for _, ref := range m.Output.FileRefs {
			if !seenRefs[ref] {
				seenRefs[ref] = true
				out.FileRefs = append(out.FileRefs, ref)
			}
		}
	}
	for _, e := range entityOrder {
		if len(entitySupport[e]) >= majority {
			out.EntitiesDiscovered = append(out.EntitiesDiscovered, e)
		}
	}

	return out
}

// LexicalClusterer keys findings by normalised summary text: lowercased,
// with every non-alphanumeric run collapsed to a single space. Findings
// whose summaries differ only in case, punctuation, or spacing count as the
// same claim.
type LexicalClusterer struct{}

func (LexicalClusterer) Key(f models.Finding) string {
	var b strings.Builder
	b.Grow(len(f.Summary))
	pendingSpace := false
	for _, r := range strings.ToLower(f.Summary) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		} else {
			pendingSpace = true
		}
	}
	return b.String()
}
