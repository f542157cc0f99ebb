package pwm

import "sync"

// Sim is an in-memory stand-in for the chip and the power rails, used by the
// -sim flag and by tests that want to watch what would hit the hardware.
type Sim struct {
	mu        sync.Mutex
	attached  map[int]bool
	positions map[int]int
	rails     map[int]bool
}

func NewSim() *Sim {
	return &Sim{
		attached:  make(map[int]bool),
		positions: make(map[int]int),
		rails:     make(map[int]bool),
	}
}

func (s *Sim) Attach(pin int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[pin] = true
}

func (s *Sim) Detach(pin int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[pin] = false
}

func (s *Sim) Attached(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached[pin]
}

func (s *Sim) Write(pin, position int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[pin] = position
}

func (s *Sim) PowerOn(pin int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rails[pin] = true
}

func (s *Sim) PowerOff(pin int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rails[pin] = false
}

// Position reports the last value written to a channel.
func (s *Sim) Position(pin int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[pin]
}

// RailOn reports the state of a power rail.
func (s *Sim) RailOn(pin int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rails[pin]
}
