package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/srg/blescope/internal/device"
	"github.com/srg/blescope/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type StreamTestSuite struct {
	CommandTestSuite
}

// waitStreaming blocks until the command reported an established session
func (s *StreamTestSuite) waitStreaming(res *commandResult) {
	s.Require().Eventually(func() bool {
		return strings.Contains(res.stderr.String(), "Streaming from Arduino")
	}, 5*time.Second, 5*time.Millisecond, "session MUST reach streaming, stderr: %s", res.stderr.String())
}

func (s *StreamTestSuite) TestStreamCmd_RequiresAddress() {
	res := s.Execute("stream")

	s.Require().Error(res.err)
	s.Contains(res.err.Error(), "accepts 1 arg(s)")
}

func (s *StreamTestSuite) TestStreamCmd_PrintsSamples() {
	// GOAL: Verify decoded samples are printed as CSV lines in arrival order
	//
	// TEST SCENARIO: device found and connected, payloads "0,0", "bad", "1,2.5" arrive → stdout has two lines →
	// the malformed payload is skipped → --raw prints all payloads on exit

	s.AdvertiseWhenScanning(arduinoAdv())
	res, done := s.Start(context.Background(), "stream", TestDeviceAddress1, "--count=2", "--raw")
	s.waitStreaming(res)

	s.Radio.LastLink().Notify("0,0", "bad", "1,2.5")
	s.Wait(done, 5*time.Second)

	s.Require().NoError(res.err, "stream MUST end cleanly after --count samples")
	s.Equal("0,0\n1,2.5\n", res.stdout.String())

	stderr := res.stderr.String()
	s.Contains(stderr, "raw: 0,0")
	s.Contains(stderr, "raw: bad")
	s.Contains(stderr, "raw: 1,2.5")
	s.Eventually(func() bool { return s.Radio.LastLink().Closed() }, time.Second, 5*time.Millisecond,
		"link MUST be closed on exit")
}

func (s *StreamTestSuite) TestStreamCmd_AddressIsCaseInsensitive() {
	s.AdvertiseWhenScanning(arduinoAdv())
	res, done := s.Start(context.Background(), "stream", strings.ToLower(TestDeviceAddress1), "--count=1")
	s.waitStreaming(res)

	s.Radio.LastLink().Notify("4,2")
	s.Wait(done, 5*time.Second)

	s.Require().NoError(res.err)
	s.Equal("4,2\n", res.stdout.String())
}

func (s *StreamTestSuite) TestStreamCmd_DeviceNotFound() {
	// GOAL: Verify a device that never advertises is reported as not found
	//
	// TEST SCENARIO: scan ends without the address → NotFoundError → user message points at scan

	s.AdvertiseWhenScanning(sensorAdv())
	res := s.Execute("stream", TestDeviceAddress1, "--scan-timeout=200ms")

	var nf *device.NotFoundError
	s.Require().ErrorAs(res.err, &nf)
	s.Contains(FormatUserError(res.err), "blescope scan")
	s.Empty(s.Radio.Links(), "no connection MUST be attempted")
}

func (s *StreamTestSuite) TestStreamCmd_ConnectionLost() {
	// GOAL: Verify a dropped link ends the command with ErrConnectionLost after printing received samples
	//
	// TEST SCENARIO: streaming, one sample arrives, peripheral drops the link → sample printed → ErrConnectionLost

	s.AdvertiseWhenScanning(arduinoAdv())
	res, done := s.Start(context.Background(), "stream", TestDeviceAddress1)
	s.waitStreaming(res)

	link := s.Radio.LastLink()
	link.Notify("3,4")
	link.Drop(errors.New("supervision timeout"))
	s.Wait(done, 5*time.Second)

	s.Require().ErrorIs(res.err, ErrConnectionLost)
	s.Equal("3,4\n", res.stdout.String())
}

func (s *StreamTestSuite) TestStreamCmd_SetupFailure() {
	// GOAL: Verify a failed connection setup is returned with its failure kind
	//
	// TEST SCENARIO: link establishment fails → command returns link_failed

	s.Radio = testutils.NewFakeRadio() // links are driven by the test

	s.AdvertiseWhenScanning(arduinoAdv())
	res, done := s.Start(context.Background(), "stream", TestDeviceAddress1)

	s.Require().Eventually(func() bool { return s.Radio.LastLink() != nil }, 5*time.Second, 5*time.Millisecond)
	s.Radio.LastLink().FailLink(errors.New("connection refused"))
	s.Wait(done, 5*time.Second)

	s.Require().ErrorIs(res.err, device.ErrLinkFailed)
	s.Contains(FormatUserError(res.err), "connection refused")
}

func (s *StreamTestSuite) TestStreamCmd_InterruptDisconnects() {
	// GOAL: Verify cancellation disconnects and exits without error
	//
	// TEST SCENARIO: streaming, context cancelled → command returns nil → link closed

	s.AdvertiseWhenScanning(arduinoAdv())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, done := s.Start(ctx, "stream", TestDeviceAddress1)
	s.waitStreaming(res)

	cancel()
	s.Wait(done, 5*time.Second)

	s.Require().NoError(res.err)
	s.Eventually(func() bool { return s.Radio.LastLink().Closed() }, time.Second, 5*time.Millisecond)
}

func TestStreamTestSuite(t *testing.T) {
	suite.Run(t, new(StreamTestSuite))
}
