package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blescope/internal/device"
	"github.com/srg/blescope/internal/devicefactory"
	"github.com/srg/blescope/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent fake device identification
const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:01"
	TestDeviceAddress2 = "AA:BB:CC:DD:EE:02"
)

// syncBuffer is a bytes.Buffer safe for a command writing while the test reads
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// commandResult is the outcome of one command run
type commandResult struct {
	stdout *syncBuffer
	stderr *syncBuffer
	err    error
}

// CommandTestSuite runs commands against a fake radio.
// All cmd/blescope test suites embed it.
type CommandTestSuite struct {
	suite.Suite
	Radio *testutils.FakeRadio

	originalRadioFactory func(*logrus.Logger) (device.Radio, error)
}

func (s *CommandTestSuite) SetupTest() {
	s.Radio = testutils.NewFakeRadio().AutoConnect(testutils.UARTProfile()...)
	s.originalRadioFactory = devicefactory.RadioFactory
	devicefactory.RadioFactory = func(*logrus.Logger) (device.Radio, error) {
		return s.Radio, nil
	}

	// Reset command flags so values do not leak between tests
	scanCmd.ResetFlags()
	initScanFlags()
	streamCmd.ResetFlags()
	initStreamFlags()
	serveCmd.ResetFlags()
	initServeFlags()
	s.Require().NoError(rootCmd.PersistentFlags().Set("config", ""))
	s.Require().NoError(rootCmd.PersistentFlags().Set("log-level", ""))
}

func (s *CommandTestSuite) TearDownTest() {
	devicefactory.RadioFactory = s.originalRadioFactory
}

// Start runs the root command with args in the background
func (s *CommandTestSuite) Start(ctx context.Context, args ...string) (*commandResult, <-chan struct{}) {
	res := &commandResult{stdout: &syncBuffer{}, stderr: &syncBuffer{}}
	done := make(chan struct{})

	rootCmd.SetOut(res.stdout)
	rootCmd.SetErr(res.stderr)
	rootCmd.SetArgs(args)
	// cobra keeps the first context it sees on subcommands
	for _, c := range rootCmd.Commands() {
		c.SetContext(ctx)
	}

	go func() {
		defer close(done)
		res.err = rootCmd.ExecuteContext(ctx)
	}()
	return res, done
}

// Execute runs the root command with args and waits for it to return
func (s *CommandTestSuite) Execute(args ...string) *commandResult {
	res, done := s.Start(context.Background(), args...)
	s.Wait(done, 5*time.Second)
	return res
}

// Wait fails the test if done is not closed within timeout
func (s *CommandTestSuite) Wait(done <-chan struct{}, timeout time.Duration) {
	select {
	case <-done:
	case <-time.After(timeout):
		s.FailNow("command MUST return in time")
	}
}

// AdvertiseWhenScanning delivers advs as soon as the radio is discovering
func (s *CommandTestSuite) AdvertiseWhenScanning(advs ...device.Advertisement) {
	radio := s.Radio
	go func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if radio.Advertise(advs...) {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()
}

// WriteConfig writes a YAML config into a temp dir and returns its path
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	path := filepath.Join(s.T().TempDir(), "blescope.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func arduinoAdv() device.Advertisement {
	return testutils.CreateMockAdvertisementFromJSON(`{
		"address": %q,
		"name": "Arduino",
		"rssi": -42,
		"services": ["6E400001-B5A3-F393-E0A9-E50E24DCCA9E"]
	}`, TestDeviceAddress1).Build()
}

func sensorAdv() device.Advertisement {
	return testutils.CreateMockAdvertisement("Sensor", TestDeviceAddress2, -70).Build()
}
