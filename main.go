package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/animatronic-io/servod/comms"
	"github.com/animatronic-io/servod/onboard"
	"github.com/animatronic-io/servod/onboard/pwm"
	"github.com/animatronic-io/servod/onboard/servo"
	"github.com/asdine/storm/v3"
	"github.com/caarlos0/env/v6"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

// updateInterval is how often the rig is polled. The controllers rate-limit
// themselves, this just has to be comfortably faster than their cadence.
const updateInterval = 5 * time.Millisecond

type EnvConfig struct {
	Issuer    string `env:"SERVOD_ISSUER" envDefault:"servod"`
	JWTSecret string `env:"SERVOD_JWT_SECRET" envDefault:"development-secret"`
	ONDEVICE  bool   `env:"ONDEVICE" envDefault:"0"`
	DEBUG     bool   `env:"DEBUG" envDefault:"0"`
	SRCDIR    string `env:"SRCDIR" envDefault:"."`
	HTMLDIR   string `env:"HTMLDIR" envDefault:"./frontend/dist/"`
	DB        *storm.DB
	Conductor *comms.Conductor
	Simulated bool
}

var (
	ENV *EnvConfig
)

func init() {
	ENV = new(EnvConfig)
	env.Parse(ENV)

	// get db path, this depends on if we are running on the figure itself
	var dbFile string
	if ENV.ONDEVICE {
		dbFile = "/data/live.db"
	} else {
		dbFile, _ = filepath.Abs("./tmp/dev.db")
		dir := filepath.Dir(dbFile)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			os.Mkdir(dir, 0755)
		}
	}

	db, err := openDb(dbFile)
	if err != nil {
		panic(err)
	}
	ENV.DB = db

	return
}

func main() {
	// process flags
	simulated := flag.Bool("sim", false, "Run the rig against an in-memory simulator")
	port := flag.String("port", "0.0.0.0:80", "Specify the ip:port to listen on")
	configFile := flag.String("config", "", "Path to the rig config yaml")
	flag.Parse()

	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Recoverer) // make sure this is last

	defer ENV.DB.Close() // close database when finished

	filename := *configFile
	if filename == "" {
		if ENV.ONDEVICE {
			filename = "/data/servod.yaml"
		} else {
			var err error
			filename, err = filepath.Abs(ENV.SRCDIR + "/servod.yaml")
			if err != nil {
				panic(err)
			}
		}
	}

	config, err := onboard.LoadConfig(filename)
	if err != nil {
		panic(fmt.Sprintf("Unable to load rig config: %v", err))
	}

	ENV.Simulated = *simulated

	var act servo.Actuation
	var power onboard.PowerSwitch
	if ENV.Simulated {
		println("Creating simulator")
		sim := pwm.NewSim()
		act, power = sim, sim
	} else {
		chip, err := pwm.NewChip(config.PWMChip)
		if err != nil {
			panic(fmt.Sprintf("Unable to open pwm chip: %v", err))
		}
		act, power = chip, pwm.NewRails()
	}

	positions, err := loadPositions(ENV.DB)
	if err != nil {
		panic(fmt.Sprintf("Unable to load servo positions: %v", err))
	}

	ENV.Conductor = new(comms.Conductor)

	// settled positions are written to the database on their way out to the
	// clients, so a restart resumes from the last known pose
	sink := &positionRecorder{db: ENV.DB, next: ENV.Conductor}

	rig, err := onboard.NewRig(config, act, power, sink, servo.WallClock{}, positions)
	if err != nil {
		panic(fmt.Sprintf("Unable to initialize rig: %v", err))
	}
	ENV.Conductor.Device = rig

	go ENV.Conductor.UpdateClients()

	go func() {
		for range time.Tick(updateInterval) {
			rig.Update()
		}
	}()

	//---
	// Create a local shell
	//---
	{
		servoNames := func([]string) []string {
			return rig.ServoNames()
		}

		shell := ishell.New()
		shell.Println("servod development shell")
		shell.ShowPrompt(true)
		shell.AddCmd(&ishell.Cmd{
			Name: "createsuperuser",
			Help: "createsuperuser <email> <password>",
			Func: func(c *ishell.Context) {
				// disable the '>>>' for cleaner same line input.
				c.ShowPrompt(false)
				defer c.ShowPrompt(true) // yes, revert when done.

				var email string
				if len(c.Args) >= 1 {
					email = c.Args[0]
				} else {
					c.Print("Email: ")
					email = c.ReadLine()
				}

				var password string
				if len(c.Args) >= 2 {
					password = c.Args[1]
				} else {
					c.Print("Password: ")
					password = c.ReadPassword()
				}

				user := &User{
					Email: email,
					Name:  email,
					Admin: true,
				}
				user.SetPassword([]byte(password))
				if err := ENV.DB.Save(user); err != nil {
					panic(err)
				}

				c.Println("Superuser created")
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name:      "move",
			Completer: servoNames,
			Help:      "move <name> <position> <duration_ms>",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 3 {
					c.Err(fmt.Errorf("usage: move <name> <position> <duration_ms>"))
					return
				}
				name := c.Args[0]
				position, _ := strconv.Atoi(c.Args[1])
				duration, _ := strconv.Atoi(c.Args[2])
				c.Printf("Moving servo %s to %d over %dms\n", name, position, duration)
				if err := rig.MoveServo(name, position, duration); err != nil {
					c.Err(err)
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name:      "stop",
			Completer: servoNames,
			Help:      "stop <name>",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 1 {
					c.Err(fmt.Errorf("usage: stop <name>"))
					return
				}
				if err := rig.StopServo(c.Args[0]); err != nil {
					c.Err(err)
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name:      "set",
			Completer: servoNames,
			Help:      "set <name> <position> - override the position estimate without motion",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 2 {
					c.Err(fmt.Errorf("usage: set <name> <position>"))
					return
				}
				position, _ := strconv.Atoi(c.Args[1])
				if err := rig.SetServoPosition(c.Args[0], position); err != nil {
					c.Err(err)
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "state",
			Help: "Reads the current state of every servo",
			Func: func(c *ishell.Context) {
				for _, name := range rig.ServoNames() {
					s := rig.State()[name]
					c.Printf("%-16s pin=%-3d pos=%-3d moving=%-5v attached=%v\n",
						name, s.Pin, s.Position, s.Moving, s.Attached)
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name:      "verbose",
			Completer: servoNames,
			Help:      "verbose [name] <on|off>",
			Func: func(c *ishell.Context) {
				switch len(c.Args) {
				case 1:
					rig.Verbose(c.Args[0] == "on")
				case 2:
					if err := rig.ServoVerbose(c.Args[0], c.Args[1] == "on"); err != nil {
						c.Err(err)
					}
				default:
					c.Err(fmt.Errorf("usage: verbose [name] <on|off>"))
				}
			},
		})

		// Start an instance of the shell so it can be controlled from the CLI
		go shell.Start()
	}

	//---
	// Build the API routes
	//---
	r.Route("/api", func(r chi.Router) {
		// login
		r.Post("/login", Login)

		r.Route("/", func(r chi.Router) {
			// Seek, verify and validate JWT tokens
			r.Use(ValidateJWT)

			r.Get("/refresh_token", JWTRefresh)

			r.Get("/servos", func(w http.ResponseWriter, r *http.Request) {
				render.JSON(w, r, rig.State())
			})

			r.Post("/servos/{name}/move", func(w http.ResponseWriter, r *http.Request) {
				data := new(MovePayload)
				if err := render.Bind(r, data); err != nil {
					render.Render(w, r, ErrInvalidRequest(err))
					return
				}
				if err := rig.MoveServo(chi.URLParam(r, "name"), data.Position, data.Duration); err != nil {
					render.Render(w, r, ErrInvalidRequest(err))
					return
				}
				render.JSON(w, r, rig.State())
			})

			r.Post("/servos/{name}/stop", func(w http.ResponseWriter, r *http.Request) {
				if err := rig.StopServo(chi.URLParam(r, "name")); err != nil {
					render.Render(w, r, ErrInvalidRequest(err))
					return
				}
				render.JSON(w, r, rig.State())
			})
		})
	})

	// Add websocket routes
	r.Route("/ws", func(r chi.Router) {
		if ENV.ONDEVICE && !ENV.DEBUG {
			// Enable JWT validation in production
			r.Use(ValidateJWT)
		} else {
			fmt.Println("Running in debug mode. Authentication disabled.")
		}

		r.Get("/echo", EchoHandler)
		r.Get("/status", StatusHandler)
	})

	// add static base routes
	FileServer(r, "/", http.Dir(ENV.HTMLDIR))

	fmt.Println("Listening on port", *port)
	if err := http.ListenAndServe(*port, r); err != nil {
		log.Fatal(err)
	}
}

// MovePayload is the body of a move request.
type MovePayload struct {
	Position int `json:"position"`
	Duration int `json:"duration"`
}

func (m *MovePayload) Bind(r *http.Request) error {
	return nil
}

func openDb(dbFile string) (db *storm.DB, err error) {
	db, err = storm.Open(dbFile)
	if err != nil {
		return
	}

	// call inits for each type
	if err := db.Init(&User{}); err != nil {
		return nil, err
	}
	if err := db.Init(&StoredPosition{}); err != nil {
		return nil, err
	}

	return
}

// FileServer conveniently sets up a http.FileServer handler to serve
// static files from a http.FileSystem.
func FileServer(r chi.Router, path string, root http.FileSystem) {
	if strings.ContainsAny(path, "{}*") {
		panic("FileServer does not permit URL parameters.")
	}

	fs := http.StripPrefix(path, http.FileServer(root))

	if path != "/" && path[len(path)-1] != '/' {
		r.Get(path, http.RedirectHandler(path+"/", 301).ServeHTTP)
		path += "/"
	}
	path += "*"

	r.Get(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.ServeHTTP(w, r)
	}))
}
