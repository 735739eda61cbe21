package radio

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/dbehnke/atcvoice-go/pkg/audio"
	"github.com/dbehnke/atcvoice-go/pkg/dto"
)

const freqApproach = 125000000

func guardSites() []dto.StationTransceiver {
	return []dto.StationTransceiver{
		{ID: "g1", Name: "GUARD_N", LatDeg: 52.0, LonDeg: -1.0, HeightMslM: 200, HeightAglM: 20},
		{ID: "g2", Name: "GUARD_S", LatDeg: 50.5, LonDeg: -1.2, HeightMslM: 150, HeightAglM: 25},
	}
}

func TestMakeTransceiverDto(t *testing.T) {
	s, _, _ := newTestStack(t)
	s.SetClientPosition(51.47, -0.45, 25, 2)
	s.AddFrequency(freqGuard, true, "GUARD", audio.SchmidED137B, PlaybackBoth)
	s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.SchmidED137B, PlaybackBoth)
	s.AddFrequency(freqApproach, true, "EGLL_APP", audio.SchmidED137B, PlaybackBoth)
	s.SetRx(freqApproach, false)
	s.SetTx(freqApproach, true)
	s.SetTransceivers(freqGuard, guardSites())

	got := s.MakeTransceiverDto()
	want := []dto.Transceiver{
		{ID: 0, Frequency: freqHeathrowTower, LatDeg: 51.47, LonDeg: -0.45, HeightMslM: 25, HeightAglM: 2},
		{ID: 1, Frequency: freqGuard, LatDeg: 52.0, LonDeg: -1.0, HeightMslM: 200, HeightAglM: 20},
		{ID: 2, Frequency: freqGuard, LatDeg: 50.5, LonDeg: -1.2, HeightMslM: 150, HeightAglM: 25},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Transceivers mismatch:\ngot  %+v\nwant %+v", got, want)
	}
	if n := s.TransceiverCountForFrequency(freqHeathrowTower); n != 1 {
		t.Errorf("Client position transceiver not kept: count %d", n)
	}
	if n := s.TransceiverCountForFrequency(freqApproach); n != 0 {
		t.Errorf("Receive-disabled frequency gained transceivers: %d", n)
	}

	// Numbering is stable across calls
	if again := s.MakeTransceiverDto(); !reflect.DeepEqual(again, want) {
		t.Errorf("Second call mismatch: %+v", again)
	}
}

func TestMakeCrossCoupleGroupDto(t *testing.T) {
	s, _, _ := newTestStack(t)
	s.AddFrequency(freqHeathrowTower, true, "EGLL_TWR", audio.SchmidED137B, PlaybackBoth)
	s.AddFrequency(freqGuard, true, "GUARD", audio.SchmidED137B, PlaybackBoth)
	s.AddFrequency(freqApproach, true, "EGLL_APP", audio.SchmidED137B, PlaybackBoth)
	s.SetTransceivers(freqGuard, guardSites())

	s.SetTx(freqHeathrowTower, true)
	s.SetXc(freqHeathrowTower, true)
	s.SetTx(freqGuard, true)
	s.SetCrossCoupleAcross(freqGuard, true)
	// No tx, so it takes no part
	s.SetXc(freqApproach, true)

	s.MakeTransceiverDto()
	got := s.MakeCrossCoupleGroupDto()
	want := []dto.CrossCoupleGroup{
		{ID: 0, TransceiverIDs: []uint16{1, 2}},
		{ID: 1, TransceiverIDs: []uint16{0}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Groups mismatch:\ngot  %+v\nwant %+v", got, want)
	}
}

func TestMakeCrossCoupleGroupDtoEmpty(t *testing.T) {
	s, _, _ := newTestStack(t)
	got := s.MakeCrossCoupleGroupDto()
	if len(got) != 1 || got[0].ID != 0 || len(got[0].TransceiverIDs) != 0 {
		t.Errorf("Expected a single empty group, got %+v", got)
	}
}

func TestStationTransceiverUpdate(t *testing.T) {
	s, _, _ := newTestStack(t)
	s.AddFrequency(freqGuard, true, "GUARD", audio.SchmidED137B, PlaybackBoth)

	s.StationTransceiverUpdate("GUARD", map[string][]dto.StationTransceiver{"GUARD": nil})
	if n := s.TransceiverCountForFrequency(freqGuard); n != 0 {
		t.Errorf("Empty update applied: count %d", n)
	}

	s.StationTransceiverUpdate("EGLL_TWR", map[string][]dto.StationTransceiver{"EGLL_TWR": guardSites()})
	if n := s.TransceiverCountForFrequency(freqGuard); n != 0 {
		t.Errorf("Update for another station applied: count %d", n)
	}

	s.StationTransceiverUpdate("GUARD", map[string][]dto.StationTransceiver{"GUARD": guardSites()})
	if n := s.TransceiverCountForFrequency(freqGuard); n != 2 {
		t.Errorf("Transceiver count mismatch: got %d, want 2", n)
	}
}

// countingLookup counts calls to the wrapped table
type countingLookup struct {
	mu    sync.Mutex
	calls int
	table StaticStations
}

func (c *countingLookup) StationTransceivers(ctx context.Context, station string) ([]dto.StationTransceiver, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.table.StationTransceivers(ctx, station)
}

func TestStationCache(t *testing.T) {
	lookup := &countingLookup{table: StaticStations{"GUARD": guardSites()}}
	cache := NewStationCache(lookup, 0, time.Hour)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := cache.Transceivers(ctx, "GUARD")
		if err != nil {
			t.Fatalf("Failed to look up station: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Transceiver count mismatch: got %d, want 2", len(got))
		}
	}
	if lookup.calls != 1 {
		t.Errorf("Lookup call count mismatch: got %d, want 1", lookup.calls)
	}
	if cache.Len() != 1 {
		t.Errorf("Cache length mismatch: got %d, want 1", cache.Len())
	}

	cache.Invalidate("GUARD")
	if _, err := cache.Transceivers(ctx, "GUARD"); err != nil {
		t.Fatalf("Failed to look up station: %v", err)
	}
	if lookup.calls != 2 {
		t.Errorf("Lookup call count mismatch: got %d, want 2", lookup.calls)
	}

	_, err := cache.Transceivers(ctx, "NOWHERE")
	if !errors.Is(err, ErrUnknownStation) {
		t.Errorf("Expected ErrUnknownStation, got %v", err)
	}
}

func TestStationCacheApply(t *testing.T) {
	s, _, _ := newTestStack(t)
	s.AddFrequency(freqGuard, true, "GUARD", audio.SchmidED137B, PlaybackBoth)
	cache := NewStationCache(StaticStations{"GUARD": guardSites()}, 8, time.Hour)

	if err := cache.Apply(context.Background(), s, "GUARD"); err != nil {
		t.Fatalf("Failed to apply station: %v", err)
	}
	if n := s.TransceiverCountForFrequency(freqGuard); n != 2 {
		t.Errorf("Transceiver count mismatch: got %d, want 2", n)
	}
	if err := cache.Apply(context.Background(), s, "EGLL_TWR"); err == nil {
		t.Error("Expected error for unknown station")
	}
}
