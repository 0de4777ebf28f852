// Package random implements the on-demand retrieval path: a weighted
// choice between the single-item and group stores with a one-shot
// fallback to the other mode.
package random

import (
	"context"
	"math/rand/v2"

	"mediavault/internal/sanitize"
	"mediavault/internal/storage"
	kit "mediavault/internal/transport"
	"mediavault/pkg/logx"
)

// Kind tags which store a Media value came from.
type Kind string

const (
	KindSingle Kind = "single"
	KindGroup  Kind = "group"
)

// Media is the normalized retrieval result: the delivery step does not
// need to know which table produced it. Captions are sanitized and capped
// at read time, independent of write-time sanitization.
type Media struct {
	Kind    Kind
	Key     string // group key or single file id
	Items   []kit.MediaItem
	Caption string // lead caption
}

// DefaultSingleWeight is the probability of trying the single-item store
// first.
const DefaultSingleWeight = 0.5

type Selector struct {
	store  storage.Store
	owner  string
	weight float64
	coin   func() float64 // unit-interval source, swappable in tests
	log    logx.Logger
}

func New(store storage.Store, owner string, weight float64, log logx.Logger) *Selector {
	if weight <= 0 || weight > 1 {
		weight = DefaultSingleWeight
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Selector{
		store:  store,
		owner:  owner,
		weight: weight,
		coin:   rand.Float64,
		log:    log,
	}
}

// Pick draws one stored unit at random. A nil, nil return means nothing is
// stored for this owner — a valid outcome, not an error. At most two
// queries run: the chosen mode, then the other mode once as fallback.
func (s *Selector) Pick(ctx context.Context) (*Media, error) {
	single := s.coin() < s.weight

	m, err := s.fetch(ctx, single)
	if err != nil {
		return nil, err
	}
	if m != nil {
		return m, nil
	}
	// Primary mode empty; try the other one exactly once.
	return s.fetch(ctx, !single)
}

func (s *Selector) fetch(ctx context.Context, single bool) (*Media, error) {
	if single {
		it, err := s.store.RandomSingle(ctx, s.owner)
		if err != nil || it == nil {
			return nil, err
		}
		item := it.Item
		item.Caption = sanitize.Caption(item.Caption)
		return &Media{
			Kind:    KindSingle,
			Key:     item.FileID,
			Items:   []kit.MediaItem{item},
			Caption: item.Caption,
		}, nil
	}

	key, items, err := s.store.RandomGroup(ctx, s.owner)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	for i := range items {
		items[i].Caption = sanitize.Caption(items[i].Caption)
	}
	return &Media{
		Kind:    KindGroup,
		Key:     key,
		Items:   items,
		Caption: items[0].Caption,
	}, nil
}
