package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

// Desktop notification service.
const (
	notificationsService   = "org.freedesktop.Notifications"
	notificationsPath      = "/org/freedesktop/Notifications"
	notificationsInterface = "org.freedesktop.Notifications"

	toastTimeoutMs = 4000

	// callTimeout bounds one bus round trip on the worker.
	callTimeout = 2 * time.Second
	queueSize   = 32
)

// DBus posts freedesktop desktop notifications on a private session bus
// connection. ShowBusy, its dismiss function and Toast only queue work; a
// single worker makes the bus calls in order, so the caller never waits on
// the bus.
type DBus struct {
	obj     dbus.BusObject
	closer  func() error
	appName string
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	jobs   chan func()
	wg     sync.WaitGroup
}

// NewDBus opens a session bus connection owned by the notifier.
func NewDBus(appName string, logger *slog.Logger) (*DBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	return newDBus(conn.Object(notificationsService, dbus.ObjectPath(notificationsPath)), conn.Close, appName, logger), nil
}

func newDBus(obj dbus.BusObject, closer func() error, appName string, logger *slog.Logger) *DBus {
	if logger == nil {
		logger = slog.Default()
	}
	d := &DBus{
		obj:     obj,
		closer:  closer,
		appName: appName,
		logger:  logger.With(slog.String("component", "notify-dbus")),
		jobs:    make(chan func(), queueSize),
	}
	d.wg.Add(1)
	go d.work()
	return d
}

func (d *DBus) work() {
	defer d.wg.Done()
	for job := range d.jobs {
		job()
	}
}

// enqueue hands job to the worker without blocking. Work queued after Close
// or beyond the queue is dropped.
func (d *DBus) enqueue(job func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.jobs <- job:
	default:
		d.logger.Warn("notification queue full, dropped")
	}
}

func (d *DBus) call(method string, args ...any) *dbus.Call {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return d.obj.CallWithContext(ctx, notificationsInterface+"."+method, 0, args...)
}

func (d *DBus) notify(summary, body string, timeoutMs int32, hints map[string]dbus.Variant) (uint32, error) {
	var id uint32
	call := d.call("Notify", d.appName, uint32(0), "", summary, body, []string{}, hints, timeoutMs)
	if err := call.Store(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// ShowBusy posts a persistent notification and closes it on dismiss.
func (d *DBus) ShowBusy(label string) func() {
	// id is only touched by the worker.
	var id uint32
	d.enqueue(func() {
		n, err := d.notify(d.appName, label, 0, map[string]dbus.Variant{
			"urgency":   dbus.MakeVariant(byte(0)),
			"transient": dbus.MakeVariant(true),
		})
		if err != nil {
			d.logger.Debug("busy notification failed", slog.String("error", err.Error()))
			return
		}
		id = n
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			d.enqueue(func() {
				if id == 0 {
					return
				}
				if call := d.call("CloseNotification", id); call.Err != nil {
					d.logger.Debug("close notification failed", slog.String("error", call.Err.Error()))
				}
			})
		})
	}
}

// Toast posts a short-lived notification.
func (d *DBus) Toast(message string) {
	d.enqueue(func() {
		_, err := d.notify(d.appName, message, toastTimeoutMs, map[string]dbus.Variant{
			"urgency": dbus.MakeVariant(byte(1)),
		})
		if err != nil {
			d.logger.Warn("toast notification failed",
				slog.String("error", err.Error()),
				slog.String("message", message))
		}
	})
}

// Close drains queued notifications and closes the connection.
func (d *DBus) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	return d.closer()
}
