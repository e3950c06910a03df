// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package observer_test

import (
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	jujutesting "github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/installkit/installkit/observer"
	coretesting "github.com/installkit/installkit/testing"
)

type taskSuite struct {
	jujutesting.IsolationSuite

	clock *testclock.Clock
	fix   *taskFixture
}

var _ = gc.Suite(&taskSuite{})

// taskFixture provides the task's collaborators, recording every
// interaction with them.
type taskFixture struct {
	stub *jujutesting.Stub

	startStatus int
	// release, when non-nil, blocks the start primitive until closed,
	// keeping the task in its running state; entered is closed when the
	// primitive is reached, so tests can synchronise on the attempt
	// being in flight.
	release chan struct{}
	entered chan struct{}

	proxy    *stubConfigProxy
	proxyErr error
}

func (f *taskFixture) start(unit string) int {
	f.stub.AddCall("Start", unit)
	if f.release != nil {
		close(f.entered)
		<-f.release
	}
	return f.startStatus
}

func (f *taskFixture) configProxy() (observer.ConfigProxy, error) {
	f.stub.AddCall("ConfigProxy")
	if f.proxyErr != nil {
		return nil, f.proxyErr
	}
	return f.proxy, nil
}

type stubConfigProxy struct {
	stub   *jujutesting.Stub
	setErr error
}

func (p *stubConfigProxy) Set(property string, value interface{}) error {
	p.stub.AddCall("Set", property, value)
	return p.setErr
}

func (s *taskSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Time{})
	stub := &jujutesting.Stub{}
	s.fix = &taskFixture{
		stub:    stub,
		entered: make(chan struct{}),
		proxy:   &stubConfigProxy{stub: stub},
	}
}

func (s *taskSuite) newTask(c *gc.C) *observer.StartupTask {
	task, err := observer.NewStartupTask(observer.StartupTaskConfig{
		Unit:        "stats.service",
		Start:       s.fix.start,
		ConfigProxy: s.fix.configProxy,
		Property:    "logging.default_log_level",
		Value:       "DEBUG",
		Clock:       s.clock,
	})
	c.Assert(err, jc.ErrorIsNil)
	return task
}

// waitInFlight blocks until the startup attempt is inside the start
// primitive, so a subsequent bounded query is guaranteed to park on the
// clock rather than bail out on a not-yet-started task.
func (s *taskSuite) waitInFlight(c *gc.C) {
	select {
	case <-s.fix.entered:
	case <-time.After(coretesting.LongWait):
		c.Fatal("timed out waiting for the startup attempt to begin")
	}
}

func (s *taskSuite) waitDone(c *gc.C, task *observer.StartupTask) {
	select {
	case <-observer.TaskDone(task):
	case <-time.After(coretesting.LongWait):
		c.Fatal("timed out waiting for the startup attempt to settle")
	}
}

func (s *taskSuite) TestValidate(c *gc.C) {
	config := observer.StartupTaskConfig{
		Unit:        "stats.service",
		Start:       s.fix.start,
		ConfigProxy: s.fix.configProxy,
		Clock:       s.clock,
	}
	c.Assert(config.Validate(), jc.ErrorIsNil)

	for i, test := range []struct {
		tweak  func(*observer.StartupTaskConfig)
		expect string
	}{{
		tweak:  func(cfg *observer.StartupTaskConfig) { cfg.Unit = "" },
		expect: "empty Unit not valid",
	}, {
		tweak:  func(cfg *observer.StartupTaskConfig) { cfg.Start = nil },
		expect: "nil Start not valid",
	}, {
		tweak:  func(cfg *observer.StartupTaskConfig) { cfg.ConfigProxy = nil },
		expect: "nil ConfigProxy not valid",
	}, {
		tweak:  func(cfg *observer.StartupTaskConfig) { cfg.Clock = nil },
		expect: "nil Clock not valid",
	}} {
		c.Logf("test %d", i)
		broken := config
		test.tweak(&broken)
		c.Check(broken.Validate(), gc.ErrorMatches, test.expect)
		_, err := observer.NewStartupTask(broken)
		c.Check(err, gc.ErrorMatches, test.expect)
	}
}

func (s *taskSuite) TestRunSuccess(c *gc.C) {
	task := s.newTask(c)

	ok, err := task.Run()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsTrue)

	s.fix.stub.CheckCalls(c, []jujutesting.StubCall{
		{FuncName: "Start", Args: []interface{}{"stats.service"}},
		{FuncName: "ConfigProxy"},
		{FuncName: "Set", Args: []interface{}{"logging.default_log_level", "DEBUG"}},
	})
	c.Check(task.Result(), jc.IsTrue)
	c.Check(task.Err(), jc.ErrorIsNil)
}

func (s *taskSuite) TestRunUnitStartFails(c *gc.C) {
	s.fix.startStatus = 1
	task := s.newTask(c)

	ok, err := task.Run()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsFalse)

	// The configuration proxy is never touched after a failed start.
	s.fix.stub.CheckCalls(c, []jujutesting.StubCall{
		{FuncName: "Start", Args: []interface{}{"stats.service"}},
	})
}

func (s *taskSuite) TestRunConfigurationFailureIsFatal(c *gc.C) {
	s.fix.proxy.setErr = errors.New("rejected")
	task := s.newTask(c)

	ok, err := task.Run()
	c.Check(ok, jc.IsFalse)
	c.Assert(err, gc.ErrorMatches, `setting "logging.default_log_level" on "stats.service": rejected`)
	c.Check(task.Err(), gc.NotNil)
}

func (s *taskSuite) TestRunOnlyOnce(c *gc.C) {
	task := s.newTask(c)

	ok, err := task.Run()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsTrue)

	// A second run is a pure read of the recorded outcome.
	ok, err = task.Run()
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(ok, jc.IsTrue)
	s.fix.stub.CheckCallNames(c, "Start", "ConfigProxy", "Set")
}

func (s *taskSuite) TestIsServiceAvailableAfterSuccess(c *gc.C) {
	task := s.newTask(c)
	_, err := task.Run()
	c.Assert(err, jc.ErrorIsNil)

	// The outcome is returned immediately; a blocking wait would hang
	// on the test clock.
	c.Check(task.IsServiceAvailable(time.Second), jc.IsTrue)
	c.Check(task.IsServiceAvailable(time.Second), jc.IsTrue)
}

func (s *taskSuite) TestIsServiceAvailableAfterFailure(c *gc.C) {
	s.fix.startStatus = 1
	task := s.newTask(c)
	_, err := task.Run()
	c.Assert(err, jc.ErrorIsNil)

	c.Check(task.IsServiceAvailable(time.Second), jc.IsFalse)
}

func (s *taskSuite) TestIsServiceAvailableNeverStarted(c *gc.C) {
	task := s.newTask(c)
	c.Check(task.IsServiceAvailable(time.Second), jc.IsFalse)
	s.fix.stub.CheckCalls(c, nil)
}

func (s *taskSuite) TestIsServiceAvailableZeroTimeoutPolls(c *gc.C) {
	s.fix.release = make(chan struct{})
	task := s.newTask(c)
	task.Start()

	// A zero timeout samples the current state without blocking, even
	// though the attempt is still running.
	c.Check(task.IsServiceAvailable(0), jc.IsFalse)

	close(s.fix.release)
	s.waitDone(c, task)
	c.Check(task.IsServiceAvailable(0), jc.IsTrue)
}

func (s *taskSuite) TestIsServiceAvailableTimesOut(c *gc.C) {
	s.fix.release = make(chan struct{})
	task := s.newTask(c)
	task.Start()
	s.waitInFlight(c)

	result := make(chan bool)
	go func() {
		result <- task.IsServiceAvailable(time.Second)
	}()

	// Exactly one bounded wait is taken out against the clock; firing
	// it with the attempt still in flight reports unavailability.
	err := s.clock.WaitAdvance(time.Second, coretesting.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)

	select {
	case ok := <-result:
		c.Check(ok, jc.IsFalse)
	case <-time.After(coretesting.LongWait):
		c.Fatal("timed out waiting for the availability query")
	}

	close(s.fix.release)
	s.waitDone(c, task)
}

func (s *taskSuite) TestIsServiceAvailableSeesConcurrentFinish(c *gc.C) {
	s.fix.release = make(chan struct{})
	task := s.newTask(c)
	task.Start()
	s.waitInFlight(c)

	result := make(chan bool)
	go func() {
		result <- task.IsServiceAvailable(time.Second)
	}()

	// Wait until the query is parked on its timer, then let the attempt
	// finish underneath it. The wait must wake up and report the fresh
	// outcome rather than a timeout.
	err := s.clock.WaitAdvance(0, coretesting.LongWait, 1)
	c.Assert(err, jc.ErrorIsNil)
	close(s.fix.release)

	select {
	case ok := <-result:
		c.Check(ok, jc.IsTrue)
	case <-time.After(coretesting.LongWait):
		c.Fatal("timed out waiting for the availability query")
	}
}
