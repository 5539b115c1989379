package alert

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod = notifyDest + ".Notify"
	closeMethod  = notifyDest + ".CloseNotification"
)

// DBusNotifier shows toasts through the freedesktop notification service
// on the session bus. Repeat toasts for the same entry replace the
// previous one.
type DBusNotifier struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	appName string

	mu  sync.Mutex
	ids map[string]uint32
}

// NewDBusNotifier connects to the session bus.
func NewDBusNotifier(appName string) (*DBusNotifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	if appName == "" {
		appName = "remindd"
	}
	return &DBusNotifier{
		conn:    conn,
		obj:     conn.Object(notifyDest, notifyPath),
		appName: appName,
		ids:     map[string]uint32{},
	}, nil
}

func (n *DBusNotifier) Notify(ctx context.Context, t Toast) error {
	n.mu.Lock()
	replaces := n.ids[t.EntryID]
	n.mu.Unlock()

	urgency := byte(1)
	if t.Urgent {
		urgency = 2
	}
	hints := map[string]dbus.Variant{"urgency": dbus.MakeVariant(urgency)}
	expire := int32(-1)
	if t.Expire > 0 {
		expire = int32(t.Expire.Milliseconds())
	}

	var id uint32
	err := n.obj.CallWithContext(ctx, notifyMethod, 0,
		n.appName, replaces, "", t.Summary, t.Body, []string{}, hints, expire,
	).Store(&id)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.ids[t.EntryID] = id
	n.mu.Unlock()
	return nil
}

// Withdraw closes the toast last shown for entryID.
func (n *DBusNotifier) Withdraw(entryID string) {
	n.mu.Lock()
	id, ok := n.ids[entryID]
	delete(n.ids, entryID)
	n.mu.Unlock()
	if !ok {
		return
	}
	_ = n.obj.Call(closeMethod, 0, id).Err
}

func (n *DBusNotifier) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	return n.conn.Close()
}
