//go:build windows

// Package hooks wires the replacement implementations in
// hooks/replacements into the running process via package detour, and
// re-applies them whenever a module that exports one of the hooked
// names is loaded after startup.
package hooks

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sys/windows"

	"tasharness/hooks/detour"
	"tasharness/hooks/replacements"
	"tasharness/hooks/state"
	palevent "tasharness/pal/windows/event"
	"tasharness/pal/windows/module"
	"tasharness/pal/windows/process"
)

func groups() [][]detour.Spec {
	return [][]detour.Spec{
		replacements.InputHooks(),
		replacements.TimeHooks(),
		replacements.WindowHooks(),
		replacements.MiscHooks(),
		replacements.LibraryHooks(),
	}
}

// Initialize wires the virtual clock's wake event and installs every
// hook group against whatever modules are already loaded. Best-effort,
// matching the original: a module that doesn't export a given name
// simply doesn't get that one hook, instead of aborting the whole
// pass.
func Initialize() error {
	event, err := palevent.New()
	if err != nil {
		return fmt.Errorf("hooks initialize: %w", err)
	}
	state.TicksPendingEvent = contextlessEvent{event}

	drainedEvent, err := palevent.New()
	if err != nil {
		return fmt.Errorf("hooks initialize: %w", err)
	}
	if err := drainedEvent.Set(); err != nil {
		return fmt.Errorf("hooks initialize: %w", err)
	}
	state.TicksDrainedEvent = contextlessEvent{drainedEvent}

	replacements.OnModuleLoaded = func(handle uintptr) {
		applyToModule(windows.Handle(handle))
	}

	for _, group := range groups() {
		for _, spec := range group {
			if _, err := detour.Install(spec.Module, spec.Function, spec.Hook); err != nil {
				continue
			}
		}
	}
	return nil
}

// applyToModule re-installs any hook whose declared module name
// matches the name of the module behind handle, used when a DLL is loaded after startup (e.g. a lazily
// loaded winmm.dll).
func applyToModule(handle windows.Handle) {
	current := process.Current()
	mod := module.FromRawHandle(current, handle)
	name, err := mod.Name()
	if err != nil {
		return
	}
	for _, group := range groups() {
		for _, spec := range group {
			if strings.EqualFold(spec.Module, name) {
				_, _ = detour.Install(spec.Module, spec.Function, spec.Hook)
			}
		}
	}
}

// contextlessEvent adapts pal/windows/event.ManualResetEvent (whose
// Wait takes a context.Context, for cancellation from conductor-facing
// code) to the simpler state.Event interface state.Sleep needs — the
// hooks library's own wait loop has nothing to cancel against.
type contextlessEvent struct {
	inner *palevent.ManualResetEvent
}

func (c contextlessEvent) Set() error   { return c.inner.Set() }
func (c contextlessEvent) Reset() error { return c.inner.Reset() }
func (c contextlessEvent) Wait() error  { return c.inner.Wait(context.Background()) }
