package processing

import (
	"sync"
)

// The acquisition loop publishes its newest triple here once per read so that readers like
// the telemetry sampler never have to take the windows lock.

type Reading struct {
	Time     float64
	Raw      float64
	Filtered float64
	Samples  uint64
}

type SampleStore struct {
	latest      Reading
	readingLock sync.Mutex
}

func (s *SampleStore) Update(r Reading) {
	s.readingLock.Lock()
	defer s.readingLock.Unlock()

	s.latest = r
}

func (s *SampleStore) Get() Reading {
	s.readingLock.Lock()
	defer s.readingLock.Unlock()

	return s.latest
}
