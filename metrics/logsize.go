package metrics

import (
	"os"
	"time"

	"github.com/terndb/tern/utils/log"
)

// Setter is an interface for prometheus metrics to improve unit-testability.
type Setter interface {
	Set(m float64)
}

// StartLogSizeMonitor samples the size of the log file at each interval
// and sets it as a prometheus metric. It blocks and is meant to be run in
// its own goroutine.
func StartLogSizeMonitor(s Setter, logFilePath string, interval time.Duration) {
	s.Set(float64(logFileSize(logFilePath)))

	t := time.NewTicker(interval)
	for range t.C {
		s.Set(float64(logFileSize(logFilePath)))
	}
}

func logFileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		log.Error("get the log file size for monitoring %s: %v", path, err)
		return 0
	}
	return info.Size()
}
