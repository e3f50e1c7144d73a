package server

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// event ring size for fatal-fault context dumps
const eventRingSize = 16 * 1024

// App describes the application
type App struct {
	Config *AppConfig
	Log    *Log
	Ring   *EventRing
	Engine *Engine
}

// NewApp creates a new application
func NewApp(config *AppConfig) (*App, error) {
	ring := NewEventRing(eventRingSize)

	app := &App{
		Config: config,
		Ring:   ring,
		Log:    NewLog(config.Trace, ring),
	}

	app.Log.Trace("starting application")

	engine, err := NewEngine(config, app.Log)
	if err != nil {
		return nil, err
	}
	app.Engine = engine

	return app, nil
}

// Run starts the forwarding loop (in the foreground) and blocks until
// shutdown. A termination signal triggers the clean full-teardown
// path; the returned error, if any, is a fatal fault and the caller
// is expected to exit non-zero.
func (app *App) Run() error {
	// a write to a closed peer must report its error in-band, not
	// kill the process
	signal.Ignore(syscall.SIGPIPE)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		if app.Config.Trace {
			fmt.Println("caught a termination signal, shutting down")
		}
		app.Engine.RequestShutdown()
	}()

	err := app.Engine.Run()
	if err != nil {
		app.dumpRing()
		return err
	}

	return nil
}

// dumpRing prints recent log context to stderr, for fatal faults
func (app *App) dumpRing() {
	dump := app.Ring.Dump()
	if dump == "" {
		return
	}
	fmt.Fprintf(os.Stderr, "--- recent events ---\n%s", dump)
}
