package channelutil

// SendLatest places v on ch without ever blocking the sender, discarding the
// oldest buffered value when the channel is full. A receiver that falls behind
// observes only the most recent values, up to the channel capacity. This is the
// "report current state" shape: the height channel uses capacity 1, the command
// channel capacity 2.
func SendLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
