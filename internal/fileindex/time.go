package fileindex

import "time"

var zeroTime time.Time

func unixNanoTime(nanos int64) time.Time {
	return time.Unix(0, nanos)
}
