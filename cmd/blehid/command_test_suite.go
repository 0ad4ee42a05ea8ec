//go:build test

package main

import (
	"bytes"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/blehid/internal/testutils"
)

// CommandTestSuite extends MockBLESuite with command testing utilities.
// All cmd/blehid suites embed it.
type CommandTestSuite struct {
	testutils.MockBLESuite
}

func (s *CommandTestSuite) SetupSuite() {
	s.MockBLESuite.SetupSuite()
	color.NoColor = true
}

// ExecuteCommand runs the root command with args and returns its output
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()
	err := rootCmd.Execute()
	return buf.String(), err
}

// SyncBuffer is a bytes.Buffer safe to write from a session goroutine while a test reads it
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
