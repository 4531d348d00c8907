// Package desktop posts desktop notifications over D-Bus. Used to warn the
// user when stream volumes could not be confirmed restored, since that is
// the one failure that leaves the system in an altered state.
package desktop

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	notifyDest = "org.freedesktop.Notifications"
	notifyPath = "/org/freedesktop/Notifications"
)

// Notify sends a critical-urgency desktop notification via
// org.freedesktop.Notifications.
func Notify(summary, body string) error {
	conn, err := dbus.SessionBus()
	if err != nil {
		return fmt.Errorf("connecting to session bus: %w", err)
	}
	defer conn.Close()

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(byte(2)), // critical
	}

	obj := conn.Object(notifyDest, notifyPath)
	call := obj.Call(notifyDest+".Notify", 0,
		"notiduck", // app_name
		uint32(0),  // replaces_id
		"",         // app_icon
		summary,
		body,
		[]string{}, // actions
		hints,
		int32(-1), // expire_timeout, server default
	)
	if call.Err != nil {
		return fmt.Errorf("sending notification: %w", call.Err)
	}
	return nil
}
