package servo

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

type testActuation struct {
	attached map[int]bool
	writes   []int
	lastPin  int
}

func newTestActuation() *testActuation {
	return &testActuation{attached: make(map[int]bool)}
}

func (a *testActuation) Attach(pin int)        { a.attached[pin] = true }
func (a *testActuation) Detach(pin int)        { a.attached[pin] = false }
func (a *testActuation) Attached(pin int) bool { return a.attached[pin] }

func (a *testActuation) Write(pin, position int) {
	a.lastPin = pin
	a.writes = append(a.writes, position)
}

func (a *testActuation) lastWrite() int {
	if len(a.writes) == 0 {
		return -1
	}
	return a.writes[len(a.writes)-1]
}

type testSink struct {
	reports []Status
}

func (s *testSink) ServoStatus(st Status) {
	s.reports = append(s.reports, st)
}

func (s *testSink) last() Status {
	if len(s.reports) == 0 {
		return Status{Position: -1}
	}
	return s.reports[len(s.reports)-1]
}

type testClock struct {
	now uint32
}

func (c *testClock) Millis() uint32 { return c.now }

func newTestController(clock *testClock) (*Controller, *testActuation, *testSink) {
	act := newTestActuation()
	sink := new(testSink)
	c := &Controller{Name: "jaw"}
	c.Init(act, sink, clock)
	return c, act, sink
}

// runTicks advances the clock one cadence period per Update call.
func runTicks(c *Controller, clock *testClock, n int) {
	for i := 0; i < n; i++ {
		clock.now += UpdatePeriodMs
		c.Update()
	}
}

func TestBeginAndLifecycle(t *testing.T) {
	clock := &testClock{now: 1000}
	c, act, _ := newTestController(clock)

	Convey("an unassigned controller ignores everything", t, func() {
		c.MoveTo(90, 400)
		So(c.moving, ShouldBeFalse)
		So(c.inMoveRequest, ShouldBeFalse)
		So(act.writes, ShouldBeEmpty)

		c.Update()
		So(act.writes, ShouldBeEmpty)
	})

	Convey("begin assigns the slot and leaves the channel detached", t, func() {
		act.attached[3] = true
		c.Begin(3, 10, 170, 500, false, 90, -1)

		So(c.Assigned(), ShouldBeTrue)
		So(c.Attached(), ShouldBeFalse)
		So(c.LastPosition(), ShouldEqual, 90)
		So(c.moving, ShouldBeFalse)
		So(c.inMoveRequest, ShouldBeFalse)

		Convey("and is idempotent for reconfiguration", func() {
			c.Begin(3, 0, 180, 0, true, 45, 7)
			So(c.minPos, ShouldEqual, 0)
			So(c.maxPos, ShouldEqual, 180)
			So(c.inverted, ShouldBeTrue)
			So(c.LastPosition(), ShouldEqual, 45)
			So(c.PowerPin(), ShouldEqual, 7)
		})
	})

	Convey("powerUp writes the stored position and attaches", t, func() {
		c.Begin(3, 10, 170, 500, false, 90, -1)
		c.PowerUp()

		So(act.Attached(3), ShouldBeTrue)
		So(act.lastWrite(), ShouldEqual, 90)
	})
}

func TestMoveToInterpolation(t *testing.T) {
	clock := &testClock{now: 1000}
	c, act, sink := newTestController(clock)
	c.Begin(3, 10, 170, 500, false, 90, -1)
	c.PowerUp()

	Convey("a 400ms move from 90 to 150 sets up 20 steps of 3 degrees", t, func() {
		c.MoveTo(150, 400)

		So(c.numIncrements, ShouldEqual, 20)
		So(c.increment, ShouldEqual, 3.0)
		So(c.moving, ShouldBeTrue)
		So(c.inMoveRequest, ShouldBeTrue)
		So(c.arrivedMillis, ShouldEqual, clock.now+400)

		Convey("interpolation walks to the target and arrival completes it", func() {
			runTicks(c, clock, 20)
			So(c.numIncrements, ShouldEqual, 0)
			So(act.lastWrite(), ShouldEqual, 150)
			So(c.moving, ShouldBeTrue) // cleared by the arrival pass

			runTicks(c, clock, 1)
			So(c.moving, ShouldBeFalse)
			So(c.LastPosition(), ShouldEqual, 150)
			So(sink.last().Position, ShouldEqual, 150)
			So(sink.last().Moving, ShouldBeFalse)
		})
	})

	Convey("mid-move status reports are throttled", t, func() {
		c.Begin(3, 10, 170, 500, false, 90, -1)
		c.PowerUp()
		sink.reports = nil
		c.MoveTo(150, 400)

		runTicks(c, clock, 4) // 80ms, below the report interval
		So(sink.reports, ShouldBeEmpty)

		runTicks(c, clock, 1)
		So(len(sink.reports), ShouldEqual, 1)
		So(sink.last().Moving, ShouldBeTrue)
	})
}

func TestMoveToClamping(t *testing.T) {
	clock := &testClock{now: 1000}
	c, act, _ := newTestController(clock)
	c.Begin(3, 10, 170, 500, false, 90, -1)
	c.PowerUp()

	Convey("clamping is pure and bounded", t, func() {
		So(c.ClampPosition(5), ShouldEqual, 10)
		So(c.ClampPosition(250), ShouldEqual, 170)
		So(c.ClampPosition(90), ShouldEqual, 90)
	})

	Convey("an out of range target arrives at the boundary, not beyond it", t, func() {
		c.MoveTo(250, 1000)
		So(c.numIncrements, ShouldEqual, 50)

		runTicks(c, clock, 51)
		So(c.moving, ShouldBeFalse)
		So(c.LastPosition(), ShouldEqual, 170)
		So(act.lastWrite(), ShouldEqual, 170)
	})
}

func TestMoveToEdgeCases(t *testing.T) {
	clock := &testClock{now: 1000}
	c, act, sink := newTestController(clock)
	c.Begin(3, 10, 170, 500, false, 90, -1)
	c.PowerUp()

	Convey("moving to the current position is a no-op with fresh bookkeeping", t, func() {
		before := len(act.writes)
		c.MoveTo(90, 1000)

		So(c.moving, ShouldBeFalse)
		So(c.numIncrements, ShouldEqual, 0)
		So(c.nextPos, ShouldEqual, 90)
		So(c.LastPosition(), ShouldEqual, 90)
		So(len(act.writes), ShouldEqual, before)

		So(c.inMoveRequest, ShouldBeTrue)
		So(c.arrivedMillis, ShouldEqual, clock.now+1000)
	})

	Convey("a sub-cadence duration applies immediately instead of dividing by zero", t, func() {
		c.Begin(3, 10, 170, 500, false, 90, -1)
		c.PowerUp()
		sink.reports = nil

		c.MoveTo(120, 10)
		So(c.moving, ShouldBeFalse)
		So(c.LastPosition(), ShouldEqual, 120)
		So(act.lastWrite(), ShouldEqual, 120)
		So(c.inMoveRequest, ShouldBeTrue)
		So(len(sink.reports), ShouldEqual, 1)
	})

	Convey("a move on a detached servo self-heals by attaching", t, func() {
		c.Begin(3, 10, 170, 500, false, 90, -1)
		So(c.Attached(), ShouldBeFalse)

		c.MoveTo(150, 400)
		So(c.Attached(), ShouldBeTrue)
		So(c.moving, ShouldBeTrue)
	})
}

func TestAutoDetachWindow(t *testing.T) {
	clock := &testClock{now: 1000}
	c, _, sink := newTestController(clock)
	c.Begin(3, 10, 170, 500, false, 90, -1)
	c.PowerUp()

	Convey("inMoveRequest holds until autoDetachMs after arrival", t, func() {
		c.MoveTo(150, 400)
		runTicks(c, clock, 21) // 20 steps + arrival pass
		So(c.moving, ShouldBeFalse)
		So(c.inMoveRequest, ShouldBeTrue)

		// 500ms elapsed since arrival: the window is not over yet
		runTicks(c, clock, 25)
		So(c.inMoveRequest, ShouldBeTrue)

		sink.reports = nil
		runTicks(c, clock, 1)
		So(c.inMoveRequest, ShouldBeFalse)
		So(len(sink.reports), ShouldEqual, 1)
	})

	Convey("a disabled delay never clears the window", t, func() {
		c.Begin(3, 10, 170, 0, false, 90, -1)
		c.PowerUp()
		c.MoveTo(150, 400)
		runTicks(c, clock, 60)
		So(c.inMoveRequest, ShouldBeTrue)
	})

	Convey("a repeated request refreshes the window before it can fire", t, func() {
		c.Begin(3, 10, 170, 500, false, 90, -1)
		c.PowerUp()
		c.MoveTo(150, 400)
		runTicks(c, clock, 21)

		// halfway through the detach delay the dispatcher asks again
		runTicks(c, clock, 12)
		c.MoveTo(150, 400)

		runTicks(c, clock, 20) // old window would have expired here
		So(c.inMoveRequest, ShouldBeTrue)

		runTicks(c, clock, 26)
		So(c.inMoveRequest, ShouldBeFalse)
	})
}

func TestCounterWraparound(t *testing.T) {
	Convey("a move spanning the counter wrap behaves like any other", t, func() {
		clock := &testClock{now: 0xFFFFFFFF - 150}
		c, act, _ := newTestController(clock)
		c.Begin(3, 10, 170, 500, false, 90, -1)
		c.PowerUp()

		c.MoveTo(150, 400)
		So(millisInFuture(c.arrivedMillis, clock.now), ShouldBeTrue)

		runTicks(c, clock, 21)
		So(c.moving, ShouldBeFalse)
		So(c.LastPosition(), ShouldEqual, 150)
		So(act.lastWrite(), ShouldEqual, 150)

		Convey("auto-detach timing is also wrap-safe", func() {
			runTicks(c, clock, 25)
			So(c.inMoveRequest, ShouldBeTrue)
			runTicks(c, clock, 1)
			So(c.inMoveRequest, ShouldBeFalse)
		})
	})

	Convey("the in-future gate uses difference arithmetic", t, func() {
		So(millisInFuture(10, 0xFFFFFF00), ShouldBeTrue)  // just wrapped
		So(millisInFuture(0xFFFFFF00, 10), ShouldBeFalse) // long past
	})
}

func TestStopServo(t *testing.T) {
	clock := &testClock{now: 1000}
	c, act, sink := newTestController(clock)

	Convey("stop freezes the estimate and halts interpolation", t, func() {
		c.Begin(3, 10, 170, 500, false, 90, -1)
		c.PowerUp()
		c.MoveTo(150, 400)
		runTicks(c, clock, 10) // nextPos is now 120
		c.StopServo()

		So(c.numIncrements, ShouldEqual, 0)
		So(c.LastPosition(), ShouldEqual, 120)
		So(c.arrivedMillis, ShouldEqual, clock.now)
		So(sink.last().Position, ShouldEqual, 120)

		Convey("no further positions are written", func() {
			before := len(act.writes)
			runTicks(c, clock, 5)
			So(len(act.writes), ShouldEqual, before)
			So(c.moving, ShouldBeFalse) // completed by the arrival pass
		})

		Convey("the channel stays attached until auto-detach policy decides", func() {
			So(c.Attached(), ShouldBeTrue)
		})
	})
}

func TestInvertedOutput(t *testing.T) {
	clock := &testClock{now: 1000}
	c, act, _ := newTestController(clock)

	Convey("inversion is applied only at the hardware write", t, func() {
		c.Begin(3, 10, 170, 0, true, 60, -1)
		c.PowerUp()
		So(act.lastWrite(), ShouldEqual, 120)

		c.MoveTo(80, 400)
		So(c.numIncrements, ShouldEqual, 20)
		So(c.increment, ShouldEqual, 1.0) // logical math is uninverted

		runTicks(c, clock, 21)
		So(c.LastPosition(), ShouldEqual, 80)
		So(act.lastWrite(), ShouldEqual, 100)
	})
}

func TestUpdateCadence(t *testing.T) {
	clock := &testClock{now: 1000}
	c, act, _ := newTestController(clock)
	c.Begin(3, 10, 170, 500, false, 90, -1)
	c.PowerUp()
	c.MoveTo(150, 400)

	Convey("sub-cadence polling does not advance the move", t, func() {
		start := len(act.writes)
		for i := 0; i < 19; i++ {
			clock.now++ // 1ms busy polling
			c.Update()
		}
		So(len(act.writes), ShouldEqual, start)
		So(c.numIncrements, ShouldEqual, 20)

		clock.now++
		c.Update()
		So(len(act.writes), ShouldEqual, start+1)
		So(c.numIncrements, ShouldEqual, 19)
	})
}
