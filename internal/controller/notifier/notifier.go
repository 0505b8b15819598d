package notifier

import (
	"fmt"
)

// An Event is one controller action worth telling the user about.
type Event struct {
	Action string // "add", "remove", "panic", "master on", "master off", "learned"
	Zone   string
	Reason string
}

func (e Event) title() string {
	if e.Zone == "" {
		return e.Action
	}
	return fmt.Sprintf("%s: %s", e.Zone, e.Action)
}

type Notifier interface {
	Notify(Event)
}

type Notifiers []Notifier

func (n Notifiers) Notify(event Event) {
	for _, l := range n {
		l.Notify(event)
	}
}
