package api

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/earthring/zonesync/internal/auth"
	"github.com/earthring/zonesync/internal/config"
	"github.com/earthring/zonesync/internal/database"
	"github.com/earthring/zonesync/internal/selection"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Auth: config.AuthConfig{
			JWTSecret:     "test-secret-key-for-api-tests-only",
			JWTExpiration: 15 * time.Minute,
		},
		Editor: config.EditorConfig{
			MaxMessageSize: 512 * 1024,
			PongWait:       time.Minute,
			WriteWait:      10 * time.Second,
			RateLimit:      "1000-M",
		},
	}
}

func testToken(t *testing.T, service *auth.JWTService, role string) string {
	t.Helper()
	token, err := service.GenerateAccessToken(1, "tester", role)
	if err != nil {
		t.Fatalf("GenerateAccessToken failed: %v", err)
	}
	return token
}

// memoryZoneStore is an in-memory ZoneStore and AdminZoneStore.
type memoryZoneStore struct {
	mu     sync.Mutex
	zones  map[int64]*database.Zone
	nextID int64
	err    error
}

func newMemoryZoneStore() *memoryZoneStore {
	return &memoryZoneStore{zones: make(map[int64]*database.Zone)}
}

func (s *memoryZoneStore) CreateZone(input *database.ZoneCreateInput) (*database.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if err := selection.Validate(input.Selection.State()); err != nil {
		return nil, err
	}
	s.nextID++
	now := time.Now()
	zone := &database.Zone{
		ID:        s.nextID,
		Name:      input.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	setSelection(zone, input.Selection)
	s.zones[zone.ID] = zone
	copied := *zone
	return &copied, nil
}

func (s *memoryZoneStore) GetZoneByID(id int64) (*database.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	zone, ok := s.zones[id]
	if !ok {
		return nil, nil
	}
	copied := *zone
	return &copied, nil
}

func (s *memoryZoneStore) ListZones(limit, offset int) ([]database.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	ids := make([]int64, 0, len(s.zones))
	for id := range s.zones {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	zones := []database.Zone{}
	for i, id := range ids {
		if i < offset || len(zones) >= limit {
			continue
		}
		zones = append(zones, *s.zones[id])
	}
	return zones, nil
}

func (s *memoryZoneStore) UpdateZone(id int64, input database.ZoneUpdateInput) (*database.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	zone, ok := s.zones[id]
	if !ok {
		return nil, fmt.Errorf("update zone %d: %w", id, database.ErrZoneNotFound)
	}
	if input.Selection != nil {
		if err := selection.Validate(input.Selection.State()); err != nil {
			return nil, err
		}
		setSelection(zone, *input.Selection)
	}
	if input.Name != nil {
		zone.Name = *input.Name
	}
	zone.UpdatedAt = time.Now()
	copied := *zone
	return &copied, nil
}

func (s *memoryZoneStore) DeleteZone(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.zones[id]; !ok {
		return fmt.Errorf("delete zone %d: %w", id, database.ErrZoneNotFound)
	}
	delete(s.zones, id)
	return nil
}

func (s *memoryZoneStore) CountZones() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.zones)), s.err
}

func (s *memoryZoneStore) DeleteAllZones(restartIDs bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	count := int64(len(s.zones))
	s.zones = make(map[int64]*database.Zone)
	if restartIDs {
		s.nextID = 0
	}
	return count, nil
}

func (s *memoryZoneStore) get(id int64) *database.Zone {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zones[id]
}

func setSelection(zone *database.Zone, p selection.Payload) {
	zone.DistrictIDs = append([]int64{}, p.DistrictIDs...)
	zone.CustomPolygon = selection.CloneFeatures(p.CustomPolygon)
	if zone.CustomPolygon == nil {
		zone.CustomPolygon = []selection.Feature{}
	}
}
