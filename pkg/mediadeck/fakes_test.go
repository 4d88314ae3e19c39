package mediadeck

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

// fakeBus is an in-memory Bus for tests: canned names and properties,
// recorded calls, and a signal channel the test feeds directly
type fakeBus struct {
	mu sync.Mutex

	names    []string
	namesErr error

	props map[string]map[string]dbus.Variant

	calls    []string
	setProps []string

	matchesAdded   int
	matchesRemoved int

	signals chan *dbus.Signal
	closed  bool
}

func newFakeBus(names ...string) *fakeBus {
	return &fakeBus{
		names:   names,
		props:   make(map[string]map[string]dbus.Variant),
		signals: make(chan *dbus.Signal, 16),
	}
}

func (fb *fakeBus) setNames(names ...string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.names = names
}

func (fb *fakeBus) setProp(dest string, property string, value interface{}) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.props[dest] == nil {
		fb.props[dest] = make(map[string]dbus.Variant)
	}
	fb.props[dest][property] = dbus.MakeVariant(value)
}

func (fb *fakeBus) emit(sig *dbus.Signal) {
	fb.signals <- sig
}

func (fb *fakeBus) recordedCalls() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	return append([]string{}, fb.calls...)
}

func (fb *fakeBus) ListNames(ctx context.Context) ([]string, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if fb.namesErr != nil {
		return nil, fb.namesErr
	}

	return append([]string{}, fb.names...), nil
}

func (fb *fakeBus) GetProperty(ctx context.Context, dest string, path dbus.ObjectPath, property string) (dbus.Variant, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if variant, ok := fb.props[dest][property]; ok {
		return variant, nil
	}

	return dbus.Variant{}, fmt.Errorf("no such property: %s on %s", property, dest)
}

func (fb *fakeBus) SetProperty(ctx context.Context, dest string, path dbus.ObjectPath, property string, value interface{}) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.setProps = append(fb.setProps, fmt.Sprintf("%s %s=%v", dest, property, value))
	if fb.props[dest] == nil {
		fb.props[dest] = make(map[string]dbus.Variant)
	}
	fb.props[dest][property] = dbus.MakeVariant(value)

	return nil
}

func (fb *fakeBus) Call(ctx context.Context, dest string, path dbus.ObjectPath, method string, args ...interface{}) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.calls = append(fb.calls, fmt.Sprintf("%s %s", dest, method))

	return nil
}

func (fb *fakeBus) AddSignalMatch(ctx context.Context, options ...dbus.MatchOption) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.matchesAdded++

	return nil
}

func (fb *fakeBus) RemoveSignalMatch(ctx context.Context, options ...dbus.MatchOption) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.matchesRemoved++

	return nil
}

func (fb *fakeBus) Signals(buffer int) chan *dbus.Signal {
	return fb.signals
}

func (fb *fakeBus) RemoveSignal(ch chan *dbus.Signal) {}

func (fb *fakeBus) Close() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	fb.closed = true

	return nil
}

// fakeMixer serves a canned stream list and records volume adjustments
type fakeMixer struct {
	mu sync.Mutex

	inputs    []SinkInput
	inputsErr error

	adjustments []string

	updates chan struct{}
}

func newFakeMixer(inputs ...SinkInput) *fakeMixer {
	return &fakeMixer{
		inputs:  inputs,
		updates: make(chan struct{}, 1),
	}
}

func (fm *fakeMixer) SinkInputs() ([]SinkInput, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	if fm.inputsErr != nil {
		return nil, fm.inputsErr
	}

	return append([]SinkInput{}, fm.inputs...), nil
}

func (fm *fakeMixer) AdjustMasterVolume(deltaPercent int, maxPercent int) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	fm.adjustments = append(fm.adjustments, fmt.Sprintf("master %+d max %d", deltaPercent, maxPercent))

	return nil
}

func (fm *fakeMixer) AdjustSinkInputVolume(id uint32, deltaPercent int, maxPercent int) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	fm.adjustments = append(fm.adjustments, fmt.Sprintf("sink %d %+d max %d", id, deltaPercent, maxPercent))

	return nil
}

func (fm *fakeMixer) Updates() <-chan struct{} {
	return fm.updates
}

func (fm *fakeMixer) Release() error {
	return nil
}

func (fm *fakeMixer) recordedAdjustments() []string {
	fm.mu.Lock()
	defer fm.mu.Unlock()

	return append([]string{}, fm.adjustments...)
}

// fakeHost collects image pushes per surface instance
type fakeHost struct {
	mu sync.Mutex

	visible map[string][]string
	images  map[string][]string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		visible: make(map[string][]string),
		images:  make(map[string][]string),
	}
}

func (fh *fakeHost) show(actionUUID string, instanceID string) {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fh.visible[actionUUID] = append(fh.visible[actionUUID], instanceID)
}

func (fh *fakeHost) VisibleInstances(actionUUID string) []string {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	return append([]string{}, fh.visible[actionUUID]...)
}

func (fh *fakeHost) SetImage(instanceID string, image string) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fh.images[instanceID] = append(fh.images[instanceID], image)

	return nil
}

func (fh *fakeHost) pushedImages(instanceID string) []string {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	return append([]string{}, fh.images[instanceID]...)
}

func noIgnoredPlayers() []string {
	return nil
}
