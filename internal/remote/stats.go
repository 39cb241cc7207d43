package remote

import (
	"sort"
	"sync"
	"time"
)

// Stats accumulates request latency per API path and read/write counts per
// device between resets.
type Stats struct {
	mu      sync.Mutex
	latency map[string]time.Duration
	gets    map[string]int
	posts   map[string]int
}

// NewStats creates an empty collector.
func NewStats() *Stats {
	return &Stats{
		latency: make(map[string]time.Duration),
		gets:    make(map[string]int),
		posts:   make(map[string]int),
	}
}

// ObserveRequest adds the duration of one request to its path total.
func (s *Stats) ObserveRequest(path string, d time.Duration) {
	s.mu.Lock()
	s.latency[path] += d
	s.mu.Unlock()
}

// CountGet records a device read.
func (s *Stats) CountGet(id string) {
	s.mu.Lock()
	s.gets[id]++
	s.mu.Unlock()
}

// CountPost records a device write.
func (s *Stats) CountPost(id string) {
	s.mu.Lock()
	s.posts[id]++
	s.mu.Unlock()
}

// PathLatency is total request time spent on one API path.
type PathLatency struct {
	Path  string        `json:"path"`
	Total time.Duration `json:"total"`
}

// DeviceCalls is the number of reads and writes for one device.
type DeviceCalls struct {
	DeviceID string `json:"device_id"`
	Gets     int    `json:"gets"`
	Posts    int    `json:"posts"`
}

// Snapshot is a copy of the collected statistics.
type Snapshot struct {
	Paths   []PathLatency `json:"paths"`
	Devices []DeviceCalls `json:"devices"`
}

// Snapshot copies the current statistics, heaviest first.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Snapshot
	for p, d := range s.latency {
		out.Paths = append(out.Paths, PathLatency{Path: p, Total: d})
	}
	sort.Slice(out.Paths, func(i, j int) bool {
		if out.Paths[i].Total != out.Paths[j].Total {
			return out.Paths[i].Total > out.Paths[j].Total
		}
		return out.Paths[i].Path < out.Paths[j].Path
	})

	ids := make(map[string]struct{}, len(s.gets)+len(s.posts))
	for id := range s.gets {
		ids[id] = struct{}{}
	}
	for id := range s.posts {
		ids[id] = struct{}{}
	}
	for id := range ids {
		out.Devices = append(out.Devices, DeviceCalls{DeviceID: id, Gets: s.gets[id], Posts: s.posts[id]})
	}
	sort.Slice(out.Devices, func(i, j int) bool {
		ti := out.Devices[i].Gets + out.Devices[i].Posts
		tj := out.Devices[j].Gets + out.Devices[j].Posts
		if ti != tj {
			return ti > tj
		}
		return out.Devices[i].DeviceID < out.Devices[j].DeviceID
	})
	return out
}

// Reset clears all counters.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = make(map[string]time.Duration)
	s.gets = make(map[string]int)
	s.posts = make(map[string]int)
}
