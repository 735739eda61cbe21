package radio

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/dbehnke/atcvoice-go/pkg/dto"
)

// Station cache defaults
const (
	DefaultStationCacheSize = 64
	DefaultStationCacheTTL  = 4 * time.Hour
)

// ErrUnknownStation is returned by lookups for stations they do not know
var ErrUnknownStation = errors.New("radio: unknown station")

// StationLookup resolves a station name to its transceivers
type StationLookup interface {
	StationTransceivers(ctx context.Context, station string) ([]dto.StationTransceiver, error)
}

// StaticStations is a StationLookup backed by a fixed table
type StaticStations map[string][]dto.StationTransceiver

// StationTransceivers returns the table entry for station
func (s StaticStations) StationTransceivers(_ context.Context, station string) ([]dto.StationTransceiver, error) {
	t, ok := s[station]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStation, station)
	}
	return t, nil
}

// StationCache remembers lookup results for a while so re-tuning a
// station does not repeat the lookup
type StationCache struct {
	lookup StationLookup
	cache  *expirable.LRU[string, []dto.StationTransceiver]
}

// NewStationCache wraps lookup with a cache of size entries kept for ttl
func NewStationCache(lookup StationLookup, size int, ttl time.Duration) *StationCache {
	if size <= 0 {
		size = DefaultStationCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultStationCacheTTL
	}
	return &StationCache{
		lookup: lookup,
		cache:  expirable.NewLRU[string, []dto.StationTransceiver](size, nil, ttl),
	}
}

// Transceivers returns the transceivers of station, asking the lookup on
// a miss
func (c *StationCache) Transceivers(ctx context.Context, station string) ([]dto.StationTransceiver, error) {
	if t, ok := c.cache.Get(station); ok {
		return slices.Clone(t), nil
	}
	t, err := c.lookup.StationTransceivers(ctx, station)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", station, err)
	}
	c.cache.Add(station, slices.Clone(t))
	return t, nil
}

// Invalidate forgets station
func (c *StationCache) Invalidate(station string) {
	c.cache.Remove(station)
}

// Len returns the number of cached stations
func (c *StationCache) Len() int {
	return c.cache.Len()
}

// Apply looks up station and installs its transceivers on the frequency
// tuned to it
func (c *StationCache) Apply(ctx context.Context, s *Stack, station string) error {
	t, err := c.Transceivers(ctx, station)
	if err != nil {
		return err
	}
	s.StationTransceiverUpdate(station, map[string][]dto.StationTransceiver{station: t})
	return nil
}
