//go:build !linux

package pwm

// Development stub so the daemon builds on workstations; -sim mode is the
// only way to run off-target.

type Chip struct{}

func NewChip(chip int) (c *Chip, err error) {
	return nil, ErrUnsupported
}

func (c *Chip) Attach(pin int)        {}
func (c *Chip) Detach(pin int)        {}
func (c *Chip) Attached(pin int) bool { return false }
func (c *Chip) Write(pin, position int) {
}

type Rails struct{}

func NewRails() *Rails { return &Rails{} }

func (r *Rails) PowerOn(pin int)  {}
func (r *Rails) PowerOff(pin int) {}
