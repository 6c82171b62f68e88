package utils

import "time"

func MaxDuration(data ...time.Duration) time.Duration {
	if len(data) == 0 {
		return 0
	}
	res := data[0]
	for _, d := range data {
		if d > res {
			res = d
		}
	}
	return res
}

func MinDuration(data ...time.Duration) time.Duration {
	if len(data) == 0 {
		return 0
	}
	res := data[0]
	for _, d := range data {
		if d < res {
			res = d
		}
	}
	return res
}

func AvgDuration(data ...time.Duration) time.Duration {
	if len(data) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range data {
		sum += d
	}
	return sum / time.Duration(len(data))
}

// LaterTime returns the later of two instants.
func LaterTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
