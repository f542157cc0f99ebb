package onboard

import (
	"fmt"
	"sort"
	"sync"

	"github.com/animatronic-io/servod/onboard/servo"
)

// Animatronic is the command surface the shell, API and conductor drive.
type Animatronic interface {
	MoveServo(name string, position, durationMs int) error
	StopServo(name string) error
	SetServoPosition(name string, position int) error
	ServoVerbose(name string, on bool) error
	State() RigState
}

// PowerSwitch switches the GPIO rails feeding the servo power groups.
type PowerSwitch interface {
	PowerOn(pin int)
	PowerOff(pin int)
}

type ServoState struct {
	Pin           int  `json:"pin"`
	Position      int  `json:"position"`
	Moving        bool `json:"moving"`
	InMoveRequest bool `json:"inMoveRequest"`
	Attached      bool `json:"attached"`
}

type RigState map[string]ServoState

// Rig owns the controller arena for one animatronic figure and plays the
// dispatcher role: it routes commands by servo name, drives every controller
// from the update loop and cycles power group rails around activity.
type Rig struct {
	// mu serializes commands with the update loop. The controllers assume a
	// single thread of control; commands arrive from the shell, the API and
	// the websocket pumps, so every entry point takes the lock.
	mu sync.Mutex

	arena []servo.Controller
	index map[string]int

	power  PowerSwitch
	groups map[string]*powerGroup
}

// powerGroup tracks the rail for a set of arena slots. The rail comes up
// when any member is commanded and drops once every member has cleared its
// move-request window.
type powerGroup struct {
	pin       int
	members   []int
	energized bool
}

func NewRig(config RigConfig, act servo.Actuation, power PowerSwitch, sink servo.StatusSink, clock servo.Clock, lastPositions map[string]int) (r *Rig, err error) {
	if err = config.validate(); err != nil {
		return nil, err
	}

	r = &Rig{
		arena:  make([]servo.Controller, len(config.Servos)),
		index:  make(map[string]int, len(config.Servos)),
		power:  power,
		groups: make(map[string]*powerGroup, len(config.PowerGroups)),
	}

	for name, g := range config.PowerGroups {
		r.groups[name] = &powerGroup{pin: g.Pin}
	}

	// the arena is ordered by name so slot indexes are stable across runs
	names := make([]string, 0, len(config.Servos))
	for name := range config.Servos {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		sc := config.Servos[name]

		lastPos, ok := lastPositions[name]
		if !ok {
			lastPos = sc.Home
		}
		// a persisted position can predate a narrowed range; PowerUp writes
		// it unclamped, so it has to be valid going in
		if lastPos < sc.Min {
			lastPos = sc.Min
		}
		if lastPos > sc.Max {
			lastPos = sc.Max
		}

		powerPin := -1
		if sc.Group != "" {
			powerPin = config.PowerGroups[sc.Group].Pin
		}

		c := &r.arena[i]
		c.Name = name
		c.Init(act, sink, clock)
		c.Begin(sc.Pin, sc.Min, sc.Max, sc.AutoDetachMs, sc.Inverted, lastPos, powerPin)
		c.Verbose = sc.Verbose

		r.index[name] = i
		if sc.Group != "" {
			g := r.groups[sc.Group]
			g.members = append(g.members, i)
		}
	}

	return r, nil
}

// Update runs one pass over every controller and then re-evaluates the power
// rails. Call it from a loop ticking faster than the controller cadence; the
// controllers rate-limit themselves.
func (r *Rig) Update() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.arena {
		r.arena[i].Update()
	}
	r.checkPowerGroups()
}

func (r *Rig) MoveServo(name string, position, durationMs int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.servo(name)
	if err != nil {
		return err
	}

	if g := r.groupOf(c); g != nil {
		r.energize(g)
	} else if !c.Attached() {
		// individually powered servo coming out of idle
		c.PowerUp()
	}

	c.MoveTo(position, durationMs)
	return nil
}

func (r *Rig) StopServo(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.servo(name)
	if err != nil {
		return err
	}
	c.StopServo()
	return nil
}

// SetServoPosition overrides a servo's position estimate without motion,
// for recalibration after the horn has been moved by hand.
func (r *Rig) SetServoPosition(name string, position int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.servo(name)
	if err != nil {
		return err
	}
	c.SetLastPosition(c.ClampPosition(position))
	return nil
}

func (r *Rig) ServoVerbose(name string, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, err := r.servo(name)
	if err != nil {
		return err
	}
	c.Verbose = on
	return nil
}

// Verbose toggles tracing on every servo at once.
func (r *Rig) Verbose(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.arena {
		r.arena[i].Verbose = on
	}
}

func (r *Rig) State() RigState {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := make(RigState, len(r.arena))
	for name, i := range r.index {
		c := &r.arena[i]
		state[name] = ServoState{
			Pin:           c.Pin(),
			Position:      c.LastPosition(),
			Moving:        c.Moving(),
			InMoveRequest: c.InMoveRequest(),
			Attached:      c.Attached(),
		}
	}
	return state
}

func (r *Rig) ServoNames() []string {
	names := make([]string, 0, len(r.index))
	for name := range r.index {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Rig) servo(name string) (*servo.Controller, error) {
	i, ok := r.index[name]
	if !ok {
		return nil, fmt.Errorf("unable to find servo '%s'", name)
	}
	return &r.arena[i], nil
}

func (r *Rig) groupOf(c *servo.Controller) *powerGroup {
	for _, g := range r.groups {
		for _, i := range g.members {
			if &r.arena[i] == c {
				return g
			}
		}
	}
	return nil
}

// energize raises the rail and snaps every member back to its last known
// pose before the caller issues the actual move.
func (r *Rig) energize(g *powerGroup) {
	if g.energized {
		return
	}

	r.power.PowerOn(g.pin)
	g.energized = true

	for _, i := range g.members {
		r.arena[i].PowerUp()
	}
}

// checkPowerGroups drops rails whose members have all finished moving and
// sat out their auto-detach delay. Detaching here resolves who actually
// releases the hardware: the controller only tracks eligibility, the rig
// owns the power decision.
func (r *Rig) checkPowerGroups() {
	for _, g := range r.groups {
		if !g.energized {
			continue
		}

		idle := true
		for _, i := range g.members {
			c := &r.arena[i]
			if c.Moving() || c.InMoveRequest() {
				idle = false
				break
			}
		}
		if !idle {
			continue
		}

		for _, i := range g.members {
			r.arena[i].DetachServo(false)
		}
		r.power.PowerOff(g.pin)
		g.energized = false
	}
}
