package onboard

import (
	"fmt"
	"io/ioutil"

	"github.com/Masterminds/semver"
	"gopkg.in/yaml.v2"
)

// ConfigSchema is the range of config file schemas this build understands.
const ConfigSchema = "~1.0.0"

type RigConfig struct {
	Schema  string
	PWMChip int `yaml:"pwmchip"`

	Servos      map[string]ServoConfig
	PowerGroups map[string]PowerGroupConfig `yaml:"powergroups"`
}

type ServoConfig struct {
	Pin          int
	Min          int
	Max          int
	AutoDetachMs int `yaml:"autodetachms"`
	Inverted     bool

	// Verbose turns on move tracing for this servo from boot.
	Verbose bool

	// Home is the position assumed at first boot, before any position has
	// been persisted for this servo.
	Home int

	// Group names the power group whose rail feeds this servo. Empty means
	// the servo is individually powered and never power-cycled by the rig.
	Group string
}

type PowerGroupConfig struct {
	// Pin is the GPIO pin switching the group's rail.
	Pin int
}

// CheckSchema rejects config files written for another generation of the
// daemon before any hardware gets touched.
func (c *RigConfig) CheckSchema() error {
	v, err := semver.NewVersion(c.Schema)
	if err != nil {
		return fmt.Errorf("config schema %q is not a version: %v", c.Schema, err)
	}

	constraint, err := semver.NewConstraint(ConfigSchema)
	if err != nil {
		return err
	}

	if !constraint.Check(v) {
		return fmt.Errorf("unable to use config schema %s - require %s", c.Schema, ConfigSchema)
	}

	return nil
}

func (c *RigConfig) validate() error {
	for name, s := range c.Servos {
		if s.Min > s.Max {
			return fmt.Errorf("servo %s: min %d above max %d", name, s.Min, s.Max)
		}
		if s.Home < s.Min || s.Home > s.Max {
			return fmt.Errorf("servo %s: home %d outside [%d, %d]", name, s.Home, s.Min, s.Max)
		}
		if s.Group != "" {
			if _, ok := c.PowerGroups[s.Group]; !ok {
				return fmt.Errorf("servo %s: unknown power group %q", name, s.Group)
			}
		}
	}
	return nil
}

// LoadConfig reads and checks a rig config file.
func LoadConfig(filename string) (config RigConfig, err error) {
	raw, err := ioutil.ReadFile(filename)
	if err != nil {
		return config, fmt.Errorf("unable to read config file: %v", err)
	}

	if err = yaml.Unmarshal(raw, &config); err != nil {
		return config, fmt.Errorf("unable to unmarshal config: %v", err)
	}

	if err = config.CheckSchema(); err != nil {
		return config, err
	}

	return config, config.validate()
}
