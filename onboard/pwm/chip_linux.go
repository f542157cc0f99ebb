package pwm

import (
	"fmt"
	"log"
	"strconv"

	"golang.org/x/sys/unix"
)

// Chip exposes the channels of one sysfs pwmchip as servo outputs. The
// Actuation contract has no error returns, so hardware failures are logged
// and the in-memory attach state is kept honest instead.
type Chip struct {
	base     string
	attached map[int]bool
}

func NewChip(chip int) (c *Chip, err error) {
	c = &Chip{
		base:     fmt.Sprintf("/sys/class/pwm/pwmchip%d", chip),
		attached: make(map[int]bool),
	}

	// fail early if the chip is not there at all
	var stat unix.Stat_t
	if err = unix.Stat(c.base, &stat); err != nil {
		return nil, fmt.Errorf("unable to open pwm chip %d: %v", chip, err)
	}

	return c, nil
}

func (c *Chip) Attach(pin int) {
	if c.attached[pin] {
		return
	}

	// exporting an already exported channel errors; that is fine, the
	// channel may have been left behind by a previous run
	if err := writeSysfs(c.base+"/export", strconv.Itoa(pin)); err != nil {
		log.Printf("pwm: export %d: %v", pin, err)
	}

	channel := fmt.Sprintf("%s/pwm%d", c.base, pin)
	if err := writeSysfs(channel+"/period", strconv.FormatInt(framePeriod.Nanoseconds(), 10)); err != nil {
		log.Printf("pwm: period %d: %v", pin, err)
		return
	}
	if err := writeSysfs(channel+"/enable", "1"); err != nil {
		log.Printf("pwm: enable %d: %v", pin, err)
		return
	}

	c.attached[pin] = true
}

func (c *Chip) Detach(pin int) {
	if !c.attached[pin] {
		return
	}

	channel := fmt.Sprintf("%s/pwm%d", c.base, pin)
	if err := writeSysfs(channel+"/enable", "0"); err != nil {
		log.Printf("pwm: disable %d: %v", pin, err)
	}
	if err := writeSysfs(c.base+"/unexport", strconv.Itoa(pin)); err != nil {
		log.Printf("pwm: unexport %d: %v", pin, err)
	}

	c.attached[pin] = false
}

func (c *Chip) Attached(pin int) bool {
	return c.attached[pin]
}

func (c *Chip) Write(pin, position int) {
	if !c.attached[pin] {
		return
	}

	channel := fmt.Sprintf("%s/pwm%d", c.base, pin)
	duty := strconv.FormatInt(dutyForPosition(position), 10)
	if err := writeSysfs(channel+"/duty_cycle", duty); err != nil {
		log.Printf("pwm: write %d: %v", pin, err)
	}
}

// Rails switches servo power rails through sysfs GPIO. Pins are exported and
// set up as outputs the first time they are switched.
type Rails struct {
	ready map[int]bool
}

func NewRails() *Rails {
	return &Rails{ready: make(map[int]bool)}
}

func (r *Rails) PowerOn(pin int)  { r.set(pin, "1") }
func (r *Rails) PowerOff(pin int) { r.set(pin, "0") }

func (r *Rails) set(pin int, value string) {
	gpio := fmt.Sprintf("/sys/class/gpio/gpio%d", pin)

	if !r.ready[pin] {
		if err := writeSysfs("/sys/class/gpio/export", strconv.Itoa(pin)); err != nil {
			log.Printf("gpio: export %d: %v", pin, err)
		}
		if err := writeSysfs(gpio+"/direction", "out"); err != nil {
			log.Printf("gpio: direction %d: %v", pin, err)
			return
		}
		r.ready[pin] = true
	}

	if err := writeSysfs(gpio+"/value", value); err != nil {
		log.Printf("gpio: set %d: %v", pin, err)
	}
}

func writeSysfs(path, value string) error {
	fd, err := unix.Open(path, unix.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	if _, err = unix.Write(fd, []byte(value)); err != nil {
		return err
	}
	return nil
}
