package mediadeck

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// Bus is the minimal session-bus surface the selector and the watcher need.
// Hidden behind an interface so tests can run without a desktop session
type Bus interface {
	ListNames(ctx context.Context) ([]string, error)
	GetProperty(ctx context.Context, dest string, path dbus.ObjectPath, property string) (dbus.Variant, error)
	SetProperty(ctx context.Context, dest string, path dbus.ObjectPath, property string, value interface{}) error
	Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...interface{}) error
	AddSignalMatch(ctx context.Context, options ...dbus.MatchOption) error
	RemoveSignalMatch(ctx context.Context, options ...dbus.MatchOption) error
	Signals(buffer int) chan *dbus.Signal
	RemoveSignal(ch chan *dbus.Signal)
	Close() error
}

type sessionBus struct {
	logger *zap.SugaredLogger
	conn   *dbus.Conn
}

func newSessionBus(logger *zap.SugaredLogger) (Bus, error) {
	logger = logger.Named("bus")

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		logger.Warnw("Failed to connect to session bus", "error", err)
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}

	logger.Debugw("Connected to session bus", "uniqueName", conn.Names()[0])

	return &sessionBus{logger: logger, conn: conn}, nil
}

func (sb *sessionBus) ListNames(ctx context.Context) ([]string, error) {
	var names []string

	err := sb.conn.BusObject().
		CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).
		Store(&names)
	if err != nil {
		return nil, fmt.Errorf("list bus names: %w", err)
	}

	return names, nil
}

func (sb *sessionBus) GetProperty(ctx context.Context, dest string, path dbus.ObjectPath, property string) (dbus.Variant, error) {
	variant, err := sb.conn.Object(dest, path).GetProperty(property)
	if err != nil {
		return dbus.Variant{}, fmt.Errorf("get property %s of %s: %w", property, dest, err)
	}

	return variant, nil
}

func (sb *sessionBus) SetProperty(ctx context.Context, dest string, path dbus.ObjectPath, property string, value interface{}) error {
	if err := sb.conn.Object(dest, path).SetProperty(property, dbus.MakeVariant(value)); err != nil {
		return fmt.Errorf("set property %s of %s: %w", property, dest, err)
	}

	return nil
}

func (sb *sessionBus) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...interface{}) error {
	call := sb.conn.Object(dest, path).CallWithContext(ctx, method, 0, args...)
	if call.Err != nil {
		return fmt.Errorf("call %s on %s: %w", method, dest, call.Err)
	}

	return nil
}

func (sb *sessionBus) AddSignalMatch(ctx context.Context, options ...dbus.MatchOption) error {
	if err := sb.conn.AddMatchSignalContext(ctx, options...); err != nil {
		return fmt.Errorf("add signal match: %w", err)
	}

	return nil
}

func (sb *sessionBus) RemoveSignalMatch(ctx context.Context, options ...dbus.MatchOption) error {
	if err := sb.conn.RemoveMatchSignalContext(ctx, options...); err != nil {
		return fmt.Errorf("remove signal match: %w", err)
	}

	return nil
}

func (sb *sessionBus) Signals(buffer int) chan *dbus.Signal {
	ch := make(chan *dbus.Signal, buffer)
	sb.conn.Signal(ch)

	return ch
}

func (sb *sessionBus) RemoveSignal(ch chan *dbus.Signal) {
	sb.conn.RemoveSignal(ch)
}

func (sb *sessionBus) Close() error {
	if err := sb.conn.Close(); err != nil {
		return fmt.Errorf("close session bus connection: %w", err)
	}

	sb.logger.Debug("Closed session bus connection")

	return nil
}
