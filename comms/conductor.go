// Package comms fans servo status out to connected dashboard clients and
// feeds their commands back into the rig.
package comms

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/animatronic-io/servod/onboard"
	"github.com/animatronic-io/servod/onboard/servo"
	"github.com/gorilla/websocket"
)

// StateInterval is how often the full rig state is pushed to clients, on top
// of the event-driven status reports.
const StateInterval = time.Second / 4

// sendBuffer is the per-client frame backlog. A client that falls further
// behind loses frames; the periodic state push re-converges it.
const sendBuffer = 16

// Cmd is one inbound client command.
type Cmd struct {
	Cmd      string `json:"cmd"`
	Name     string `json:"name"`
	Value    int    `json:"value"`
	Duration int    `json:"duration"`
}

// Conductor owns the set of connected websocket clients. It implements
// servo.StatusSink so the controllers' reports stream straight out, and it
// translates client commands into rig calls. Both directions are
// fire-and-forget: a bad command is logged and dropped, and a client that
// stops reading loses frames instead of stalling the motion loop behind a
// blocked socket write.
type Conductor struct {
	Device onboard.Animatronic

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// ServeClient registers a websocket connection and pumps its commands until
// the peer goes away. All outbound writes happen on a dedicated goroutine
// fed by a buffered channel, so broadcast never touches the connection.
func (c *Conductor) ServeClient(conn *websocket.Conn) {
	send := make(chan []byte, sendBuffer)

	c.mu.Lock()
	if c.clients == nil {
		c.clients = make(map[*websocket.Conn]chan []byte)
	}
	c.clients[conn] = send
	c.mu.Unlock()

	go func() {
		defer conn.Close()
		for msg := range send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Println("write:", err)
				return
			}
		}
	}()

	defer func() {
		c.mu.Lock()
		delete(c.clients, conn)
		close(send)
		c.mu.Unlock()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Println("read:", err)
			return
		}

		var cmd Cmd
		if err := json.Unmarshal(raw, &cmd); err != nil {
			log.Printf("unable to parse command %q: %v", raw, err)
			continue
		}

		c.ProcessCommand(cmd)
	}
}

func (c *Conductor) ProcessCommand(cmd Cmd) {
	if c.Device == nil {
		return
	}

	var err error
	switch cmd.Cmd {
	case "move_to":
		err = c.Device.MoveServo(cmd.Name, cmd.Value, cmd.Duration)

	case "stop":
		err = c.Device.StopServo(cmd.Name)

	case "set_position":
		err = c.Device.SetServoPosition(cmd.Name, cmd.Value)

	case "verbose":
		err = c.Device.ServoVerbose(cmd.Name, cmd.Value != 0)

	default:
		log.Printf("unable to process command %v", cmd)
		return
	}

	if err != nil {
		log.Printf("command %s failed: %v", cmd.Cmd, err)
	}
}

// ServoStatus implements servo.StatusSink by broadcasting the report.
func (c *Conductor) ServoStatus(s servo.Status) {
	c.broadcast(StatusPayload{Type: "status", Status: s})
}

// UpdateClients periodically pushes the full rig state so late joiners and
// throttled-away positions converge. Run it in its own goroutine.
func (c *Conductor) UpdateClients() {
	for {
		if c.Device != nil {
			c.broadcast(StatePayload{Type: "state", Servos: c.Device.State()})
		}
		time.Sleep(StateInterval)
	}
}

func (c *Conductor) broadcast(v interface{}) {
	msg, err := json.Marshal(v)
	if err != nil {
		log.Println("marshal:", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, send := range c.clients {
		select {
		case send <- msg:
		default:
			// client not keeping up; drop the frame rather than stall
		}
	}
}
