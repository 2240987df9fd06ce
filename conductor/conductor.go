//go:build windows

// Package conductor drives a target process through an injected hooks
// library: it creates the target suspended, injects the library,
// exchanges the bootstrap handshake, and then issues Resume,
// AdvanceTime, SetKeyState, SetMousePosition, SetMouseButtonState,
// SaveState, LoadState, and IdleRequest commands over the IPC channel
// package ipc implements.
package conductor

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"tasharness/ipc"
	"tasharness/pal/windows/pipe"
	"tasharness/pal/windows/process"
)

const bootstrapMessageSize = 40

// Conductor owns a target process and the IPC channel into its injected
// hooks library, and drives it forward one command at a time.
type Conductor struct {
	executablePath string
	libraryPath    string
	logger         *log.Logger

	target *process.Process

	commandSender       *ipc.Sender[ipc.FromConductor]
	initializedReceiver *ipc.Receiver[ipc.Initialized, *ipc.Initialized]
	logReceiver         *ipc.Receiver[ipc.Log, *ipc.Log]

	stdout *pipe.Reader
	stderr *pipe.Reader

	mu    sync.Mutex
	phase Phase

	group    *errgroup.Group
	groupCtx context.Context
}

// New returns a Conductor ready to Start executablePath with
// libraryPath injected into it. Logging goes to logger if non-nil,
// otherwise to log.Default().
func New(executablePath, libraryPath string, logger *log.Logger) *Conductor {
	if logger == nil {
		logger = log.Default()
	}
	return &Conductor{
		executablePath: executablePath,
		libraryPath:    libraryPath,
		logger:         logger,
		phase:          PhaseCreated,
	}
}

// Phase returns the conductor's current state-machine phase.
func (c *Conductor) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Conductor) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Start creates the target process suspended, injects the hooks
// library, exchanges the bootstrap message, waits for the library's
// HooksInitialized handshake, starts the stdout/stderr/log pumps, and
// finally sends the single Resume that sets the target running. On
// return the conductor is in PhaseRunning.
func (c *Conductor) Start(ctx context.Context) error {
	stdoutWriter, stdoutReader, err := pipe.New()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %v", ErrOS, err)
	}
	stderrWriter, stderrReader, err := pipe.New()
	if err != nil {
		return fmt.Errorf("%w: stderr pipe: %v", ErrOS, err)
	}
	c.stdout, c.stderr = stdoutReader, stderrReader

	commandLine := `"` + c.executablePath + `"`
	target, err := process.Create(c.executablePath, commandLine, true, nil, stdoutWriter, stderrWriter)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProcessCreate, err)
	}
	c.target = target

	if err := target.KillOnParentExit(); err != nil {
		c.logger.Printf("kill-on-parent-exit not established: %v", err)
	}

	it, err := target.IterThreadIDs()
	if err != nil {
		return fmt.Errorf("%w: enumerate main thread: %v", ErrProcessCreate, err)
	}
	mainThreadID, ok := it.Next()
	it.Close()
	if !ok {
		return fmt.Errorf("%w: target reported no threads", ErrProcessCreate)
	}

	if err := target.InjectDLL(ctx, c.libraryPath); err != nil {
		return fmt.Errorf("%w: %v", ErrInjectDLL, err)
	}
	c.setPhase(PhaseInjected)

	hooksModule, err := target.GetModule(filepath.Base(c.libraryPath))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResolveExport, err)
	}
	if hooksModule == nil {
		return fmt.Errorf("%w: %s not found in target after injection", ErrResolveExport, c.libraryPath)
	}
	entryPoint, err := hooksModule.ExportAddress("Initialize")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResolveExport, err)
	}

	current := process.Current()

	initializedSender, initializedReceiver, err := ipc.NewPair[ipc.Initialized, *ipc.Initialized](target, current)
	if err != nil {
		return fmt.Errorf("%w: initialized channel: %v", ErrIPC, err)
	}
	logSender, logReceiver, err := ipc.NewPair[ipc.Log, *ipc.Log](target, current)
	if err != nil {
		return fmt.Errorf("%w: log channel: %v", ErrIPC, err)
	}
	commandSender, commandReceiver, err := ipc.NewPair[ipc.FromConductor, *ipc.FromConductor](current, target)
	if err != nil {
		return fmt.Errorf("%w: command channel: %v", ErrIPC, err)
	}
	c.commandSender = commandSender
	c.initializedReceiver = initializedReceiver
	c.logReceiver = logReceiver

	bootstrap := ipc.Bootstrap{
		MainThreadID:             mainThreadID,
		InitializedMessageSender: initializedSender,
		LogMessageSender:         logSender,
		MessageReceiver:          commandReceiver,
	}.Encode()

	bootstrapAddress, err := target.AllocateMemory(bootstrapMessageSize, process.MemoryPermissions{RWE: process.RWEReadWrite})
	if err != nil {
		return fmt.Errorf("%w: allocate bootstrap message: %v", ErrOS, err)
	}
	if err := target.Write(bootstrapAddress, bootstrap); err != nil {
		return fmt.Errorf("%w: write bootstrap message: %v", ErrOS, err)
	}

	dispatchThread, err := target.CreateThread(entryPoint, false, bootstrapAddress)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrThreadCreate, err)
	}
	_ = dispatchThread // runs forever as the command-dispatch thread; never joined from here

	if _, err := c.initializedReceiver.Receive(ctx); err != nil {
		return fmt.Errorf("%w: waiting for HooksInitialized: %v", ErrIPC, err)
	}
	c.setPhase(PhaseInitialized)

	group, groupCtx := errgroup.WithContext(ctx)
	c.group, c.groupCtx = group, groupCtx
	group.Go(func() error { return c.pumpBytes(groupCtx, c.stdout, "stdout") })
	group.Go(func() error { return c.pumpBytes(groupCtx, c.stderr, "stderr") })
	group.Go(func() error { return c.pumpLogs(groupCtx) })

	if err := c.Resume(ctx); err != nil {
		return err
	}
	return nil
}

// Wait blocks until the target process exits and returns its exit code.
// It then waits for the pump goroutines; if the target exited cleanly
// but a pump failed, the exit code is returned together with that pump
// error wrapped in ErrIPC.
func (c *Conductor) Wait(ctx context.Context) (uint32, error) {
	exitCode, joinErr := c.target.Join(ctx)
	c.setPhase(PhaseExited)
	if c.group != nil {
		if err := c.group.Wait(); err != nil && joinErr == nil {
			return exitCode, fmt.Errorf("%w: %v", ErrIPC, err)
		}
	}
	if joinErr != nil {
		return 0, fmt.Errorf("%w: %v", ErrThreadJoin, joinErr)
	}
	return exitCode, nil
}

// Resume sends the single command that starts (or resumes after a
// LoadState) every thread in the target.
func (c *Conductor) Resume(ctx context.Context) error {
	if err := c.send(ctx, ipc.Resume); err != nil {
		return err
	}
	c.setPhase(PhaseRunning)
	return nil
}

// AdvanceTime grants the target d worth of simulated time.
func (c *Conductor) AdvanceTime(ctx context.Context, d time.Duration) error {
	return c.send(ctx, ipc.AdvanceTime(d))
}

// SetKeyState updates a single virtual key's pressed/released state.
func (c *Conductor) SetKeyState(ctx context.Context, id uint8, pressed bool) error {
	return c.send(ctx, ipc.SetKeyState(id, pressed))
}

// SetMousePosition updates the virtual cursor position.
func (c *Conductor) SetMousePosition(ctx context.Context, x, y uint16) error {
	return c.send(ctx, ipc.SetMousePosition(x, y))
}

// SetMouseButtonState updates a single virtual mouse button's state.
func (c *Conductor) SetMouseButtonState(ctx context.Context, button ipc.MouseButton, pressed bool) error {
	return c.send(ctx, ipc.SetMouseButtonState(button, pressed))
}

// SaveState asks the library to snapshot its own process.
func (c *Conductor) SaveState(ctx context.Context) error {
	return c.send(ctx, ipc.SaveState)
}

// LoadState asks the library to restore the most recently saved snapshot.
func (c *Conductor) LoadState(ctx context.Context) error {
	return c.send(ctx, ipc.LoadState)
}

// WaitUntilIdle sends IdleRequest and blocks until the library reports
// that every tick granted so far has been consumed, per the driver's
// wait_until_idle contract: the library applies commands in the order
// they arrive, so every command sent before this call has been applied
// once it returns.
func (c *Conductor) WaitUntilIdle(ctx context.Context) error {
	c.setPhase(PhaseIdle)
	idleSender, idleReceiver, err := ipc.NewPair[ipc.Idle, *ipc.Idle](c.target, process.Current())
	if err != nil {
		return fmt.Errorf("%w: idle response channel: %v", ErrIPC, err)
	}
	if err := c.send(ctx, ipc.IdleRequest(idleSender)); err != nil {
		return err
	}
	if _, err := idleReceiver.Receive(ctx); err != nil {
		return fmt.Errorf("%w: waiting for Idle: %v", ErrIPC, err)
	}
	c.setPhase(PhaseRunning)
	return nil
}

func (c *Conductor) send(ctx context.Context, command ipc.FromConductor) error {
	if err := c.commandSender.Send(ctx, command); err != nil {
		return fmt.Errorf("%w: %v", ErrIPC, err)
	}
	return nil
}

// pumpBytes copies everything read from r to the conductor's logger,
// tagged with name, until ctx is canceled. The underlying pipe.Reader
// never blocks, so this polls with a short backoff between empty reads
// rather than parking in a blocking read call.
func (c *Conductor) pumpBytes(ctx context.Context, r *pipe.Reader, name string) error {
	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, err := r.Read(buf)
		if err != nil {
			return fmt.Errorf("%s pump: %w", name, err)
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		c.logger.Printf("%s: %s", name, buf[:n])
	}
}

func (c *Conductor) pumpLogs(ctx context.Context) error {
	for {
		message, err := c.logReceiver.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: log pump: %v", ErrIPC, err)
		}
		c.logger.Printf("[%s] %s", logLevelName(message.Level), message.Message)
	}
}

func logLevelName(level ipc.LogLevel) string {
	switch level {
	case ipc.LogLevelTrace:
		return "trace"
	case ipc.LogLevelDebug:
		return "debug"
	case ipc.LogLevelInfo:
		return "info"
	case ipc.LogLevelWarning:
		return "warning"
	case ipc.LogLevelError:
		return "error"
	default:
		return "unknown"
	}
}
