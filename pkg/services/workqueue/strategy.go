package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// AI tasks (provider calls) and data tasks (extraction, persistence) occupy
// separate lanes so a slow provider never blocks local work.
type ConcurrencyStrategy interface {
	// CanStartAI returns true if an AI task can start given current state
	CanStartAI() bool
	// CanStartData returns true if a data task can start given current state
	CanStartData() bool
	// OnStartAI is called when an AI task starts
	OnStartAI()
	// OnStartData is called when a data task starts
	OnStartData()
	// OnCompleteAI is called when an AI task completes
	OnCompleteAI()
	// OnCompleteData is called when a data task completes
	OnCompleteData()
}

// SerializedStrategy serializes both AI and data tasks. Only one AI task and
// one data task can run at a time, but an AI task and a data task can run in
// parallel.
type SerializedStrategy struct {
	mu          sync.Mutex
	aiRunning   bool
	dataRunning bool
}

// NewSerializedStrategy creates a strategy that serializes AI tasks
// (only one at a time) and serializes data tasks (only one at a time).
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStartAI() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.aiRunning
}

func (s *SerializedStrategy) CanStartData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dataRunning
}

func (s *SerializedStrategy) OnStartAI() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aiRunning = true
}

func (s *SerializedStrategy) OnStartData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = true
}

func (s *SerializedStrategy) OnCompleteAI() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aiRunning = false
}

func (s *SerializedStrategy) OnCompleteData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = false
}

// ThrottledAIStrategy allows up to maxConcurrent AI tasks to run in parallel.
// Data tasks are still serialized (only one at a time).
type ThrottledAIStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	aiRunning     int
	dataRunning   bool
}

// NewThrottledAIStrategy creates a strategy that allows up to maxConcurrent
// AI tasks to run in parallel while serializing data tasks.
func NewThrottledAIStrategy(maxConcurrent int) *ThrottledAIStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &ThrottledAIStrategy{
		maxConcurrent: maxConcurrent,
	}
}

func (s *ThrottledAIStrategy) CanStartAI() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aiRunning < s.maxConcurrent
}

func (s *ThrottledAIStrategy) CanStartData() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.dataRunning
}

func (s *ThrottledAIStrategy) OnStartAI() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aiRunning++
}

func (s *ThrottledAIStrategy) OnStartData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = true
}

func (s *ThrottledAIStrategy) OnCompleteAI() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.aiRunning > 0 {
		s.aiRunning--
	}
}

func (s *ThrottledAIStrategy) OnCompleteData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataRunning = false
}
