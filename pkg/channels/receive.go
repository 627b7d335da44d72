package channels

import "time"

// ReceiveAll collects messages from ch until it is closed, no message arrives
// within idle, or limit messages were received (limit <= 0 means no limit).
func ReceiveAll[T any](ch <-chan T, idle time.Duration, limit int) []T {
	var out []T

	for limit <= 0 || len(out) < limit {
		select {
		case msg, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, msg)
		case <-time.After(idle):
			return out
		}
	}

	return out
}
