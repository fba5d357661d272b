package rpc

import "time"

func secondsOrDefault(seconds int) time.Duration {
	if seconds <= 0 {
		return 0 // session.Options.withDefaults fills in 30s
	}
	return time.Duration(seconds) * time.Second
}
