package main

import (
	"log"
	"time"

	"github.com/animatronic-io/servod/onboard/servo"
	"github.com/asdine/storm/v3"
)

// StoredPosition is the last position a servo is assumed to have reached,
// persisted so a restart can recover the pose instead of jumping to a
// hardware default.
type StoredPosition struct {
	ID        int    `storm:"increment"`
	Name      string `storm:"unique"`
	Position  int
	UpdatedAt time.Time
}

// loadPositions reads every persisted servo position into a name map for
// rig construction.
func loadPositions(db *storm.DB) (map[string]int, error) {
	var all []StoredPosition
	if err := db.All(&all); err != nil {
		return nil, err
	}

	positions := make(map[string]int, len(all))
	for _, p := range all {
		positions[p.Name] = p.Position
	}
	return positions, nil
}

// positionRecorder is a StatusSink tee: settled positions go to the
// database, every report continues on to the wrapped sink. Recording is
// best-effort; a failed write must never stall the motion loop.
type positionRecorder struct {
	db   *storm.DB
	next servo.StatusSink
}

func (p *positionRecorder) ServoStatus(s servo.Status) {
	if !s.Moving && s.Name != "" {
		if err := p.record(s.Name, s.Position); err != nil {
			log.Printf("unable to persist position for %s: %v", s.Name, err)
		}
	}

	if p.next != nil {
		p.next.ServoStatus(s)
	}
}

func (p *positionRecorder) record(name string, position int) error {
	var existing StoredPosition
	err := p.db.One("Name", name, &existing)
	if err == storm.ErrNotFound {
		return p.db.Save(&StoredPosition{
			Name:      name,
			Position:  position,
			UpdatedAt: time.Now(),
		})
	}
	if err != nil {
		return err
	}

	existing.Position = position
	existing.UpdatedAt = time.Now()
	return p.db.Update(&existing)
}
