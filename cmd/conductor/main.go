//go:build windows

// Command conductor drives a Win32 executable through the injected
// hooks library: it launches the target suspended, injects the
// library, waits for it to finish installing hooks, then resumes the
// target and streams its stdout/stderr until it exits.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"tasharness/conductor"
	"tasharness/conductor/tui"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := Configure()
	if err != nil {
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("interrupt received, shutting down")
		cancel()
	}()

	logger := log.Default()
	var channelWriter *tui.ChannelWriter
	if cfg.TUI {
		channelWriter = tui.NewChannelWriter(256)
		logger = log.New(channelWriter, "", 0)
	}

	c := conductor.New(cfg.ExecutablePath, cfg.LibraryPath, logger)
	if err := c.Start(ctx); err != nil {
		log.Printf("start: %v", err)
		return 1
	}

	if cfg.TUI {
		program := tea.NewProgram(tui.New(c, channelWriter.Lines()))
		defer program.Quit()
		go func() {
			if _, err := program.Run(); err != nil {
				log.Printf("tui: %v", err)
			}
		}()
	}

	exitCode, err := c.Wait(ctx)
	if err != nil {
		log.Printf("wait: %v", err)
		return 1
	}
	return int(exitCode)
}
