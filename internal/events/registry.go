package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// engine
	"engine.started":     {},
	"engine.stopped":     {},
	"engine.query":       {},
	"engine.progress":    {},
	"engine.callback":    {},
	"engine.interrupt":   {},
	"engine.error":       {},
	"engine.console":     {},
	"engine.subcommands": {},

	// statespace
	"statespace.created":    {},
	"statespace.explored":   {},
	"statespace.transition": {},
	"statespace.evaluated":  {},
	"statespace.trace":      {},

	// modelcheck
	"modelcheck.started":     {},
	"modelcheck.step":        {},
	"modelcheck.finished":    {},
	"modelcheck.interrupted": {},
	"modelcheck.failed":      {},

	// replay
	"replay.started":    {},
	"replay.step":       {},
	"replay.infeasible": {},
	"replay.completed":  {},

	// control
	"control.interrupt": {},
	"control.rejected":  {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}
