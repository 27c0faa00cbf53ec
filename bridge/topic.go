package bridge

import (
	"github.com/arloliu/go-gse/notify"
)

// CommandTopic is where operator commands are received.
func CommandTopic(prefix string) string { return prefix + "/cmd" }

// ResultTopic is where command results are published.
func ResultTopic(prefix string) string { return prefix + "/cmd/result" }

// StatusTopic carries the retained online/offline state of the bridge.
func StatusTopic(prefix string) string { return prefix + "/bridge" }

// Route returns the topic, QoS and retain flag for ev. Abort and lockout are QoS 1; the last
// valve state, lockout and operation are retained.
func Route(prefix string, ev notify.Event) (topic string, qos byte, retained bool) {
	switch e := ev.(type) {
	case notify.ConnectionChanged:
		return prefix + "/connection", 0, false
	case notify.ValveChanged:
		return prefix + "/valve/" + e.Name, 0, true
	case notify.SensorUpdated:
		return prefix + "/sensor/" + e.ID, 0, false
	case notify.AbortTriggered:
		return prefix + "/abort", 1, false
	case notify.LockoutChanged:
		return prefix + "/lockout", 1, true
	case notify.OperationChanged:
		return prefix + "/operation", 0, true
	case notify.SequenceStep:
		return prefix + "/sequence", 0, false
	case notify.Countdown:
		return prefix + "/countdown", 0, false
	}

	return "", 0, false
}
