// Package netstate tells the queue engines when connectivity comes and
// goes.
package netstate

// Listener receives connectivity reports.
type Listener func(available bool)

// Observer reports connectivity to a single listener until stopped.
type Observer interface {
	Start(listener Listener) error
	Stop()
}

// Fanout returns a Listener that forwards every report to each of ls.
func Fanout(ls ...Listener) Listener {
	return func(available bool) {
		for _, l := range ls {
			if l != nil {
				l(available)
			}
		}
	}
}
