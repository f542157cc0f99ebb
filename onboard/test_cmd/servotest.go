//go:build linux

// Command servotest sweeps a single channel on real hardware, for bench
// checking a servo and its pwm wiring without bringing up the daemon.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/animatronic-io/servod/onboard/pwm"
)

func main() {
	chipNum := flag.Int("chip", 0, "pwmchip number")
	pin := flag.Int("pin", 0, "channel on the chip")
	min := flag.Int("min", 20, "sweep lower bound, degrees")
	max := flag.Int("max", 160, "sweep upper bound, degrees")
	flag.Parse()

	chip, err := pwm.NewChip(*chipNum)
	if err != nil {
		panic(err)
	}

	chip.Attach(*pin)
	defer chip.Detach(*pin)

	fmt.Printf("Sweeping chip %d pin %d between %d and %d\n", *chipNum, *pin, *min, *max)

	for pos := *min; pos <= *max; pos += 5 {
		chip.Write(*pin, pos)
		time.Sleep(50 * time.Millisecond)
	}
	for pos := *max; pos >= *min; pos -= 5 {
		chip.Write(*pin, pos)
		time.Sleep(50 * time.Millisecond)
	}

	fmt.Println("Success! Sweep complete")
}
