package demand

import (
	"path/filepath"
	"sync"

	"github.com/smarttraffic/dualsim/core/logger"
	"github.com/smarttraffic/dualsim/core/scenario"
)

// Store caches station data per location, loading CSV files from a data
// directory and falling back to a synthetic profile when a file is missing
// or malformed.
type Store struct {
	mu   sync.RWMutex
	dir  string
	data map[string]*StationData
	log  logger.Logger
}

// NewStore returns a store reading station files from dir. An empty dir
// serves synthetic profiles only.
func NewStore(dir string, log logger.Logger) *Store {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Store{dir: dir, data: map[string]*StationData{}, log: log}
}

// Get returns the profile for a scenario, loading it on first use.
func (s *Store) Get(sc scenario.Scenario) *StationData {
	s.mu.RLock()
	d, ok := s.data[sc.ID]
	s.mu.RUnlock()
	if ok {
		return d
	}

	d = s.load(sc)
	s.mu.Lock()
	if cached, ok := s.data[sc.ID]; ok {
		d = cached
	} else {
		s.data[sc.ID] = d
	}
	s.mu.Unlock()
	return d
}

func (s *Store) load(sc scenario.Scenario) *StationData {
	if s.dir == "" || sc.DataFile == "" {
		return Synthetic(sc.ID)
	}
	path := filepath.Join(s.dir, sc.DataFile)
	d, err := LoadStationCSV(sc.ID, path)
	if err != nil {
		s.log.Warnf("station data for %s unavailable, using synthetic profile: %v", sc.ID, err)
		return Synthetic(sc.ID)
	}
	s.log.Infof("loaded station data for %s from %s (%d rows)", sc.ID, path, len(d.Hours))
	return d
}
