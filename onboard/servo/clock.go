package servo

import "time"

var epoch = time.Now()

// WallClock counts milliseconds since process start. The uint32 truncation
// wraps after ~49.7 days, which the difference arithmetic in the controller
// tolerates.
type WallClock struct{}

func (WallClock) Millis() uint32 {
	return uint32(time.Since(epoch) / time.Millisecond)
}
