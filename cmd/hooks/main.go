//go:build windows

// Command hooks is built with -buildmode=c-shared into hooks.dll, the
// library the conductor injects into the target process. Its single
// export, Initialize, is run on a remote thread the conductor creates
// immediately after injection, with the bootstrap message's address as
// the thread's sole parameter — mirroring the original's
// `extern "stdcall" fn initialize(*mut ConductorInitialMessage)`.
package main

import "C"

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"

	"tasharness/hooks"
	"tasharness/hooks/state"
	"tasharness/ipc"
	"tasharness/pal/windows/process"
)

var logger = log.New(os.Stderr, "hooks: ", log.Lshortfile)

//export Initialize
func Initialize(bootstrapAddress uintptr) {
	if err := run(bootstrapAddress); err != nil {
		logger.Printf("fatal: %v", err)
	}
}

func run(bootstrapAddress uintptr) error {
	current := process.Current()

	const bootstrapSize = 40
	raw, err := current.ReadToSlice(bootstrapAddress, bootstrapSize)
	if err != nil {
		return fmt.Errorf("read bootstrap message: %w", err)
	}
	bootstrap, err := ipc.DecodeBootstrapFrom(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decode bootstrap message: %w", err)
	}
	if err := current.FreeMemory(bootstrapAddress); err != nil {
		return fmt.Errorf("free bootstrap message: %w", err)
	}

	logSender := bootstrap.LogMessageSender
	state.IdleHook = func() {
		_ = logSender.Send(context.Background(), ipc.Log{Level: ipc.LogLevelTrace, Message: "idle"})
	}

	if err := hooks.Initialize(); err != nil {
		return fmt.Errorf("install hooks: %w", err)
	}

	if err := bootstrap.InitializedMessageSender.Send(context.Background(), ipc.Initialized{}); err != nil {
		return fmt.Errorf("send initialized: %w", err)
	}
	_ = logSender.Send(context.Background(), ipc.Log{
		Level:   ipc.LogLevelDebug,
		Message: fmt.Sprintf("assuming thread with id 0x%x to be the main thread", bootstrap.MainThreadID),
	})

	if err := hooks.Dispatch(context.Background(), bootstrap.MessageReceiver); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}

func main() {}
