package intake

import "time"

// Recorder receives instrumentation from the intake package.
type Recorder interface {
	ObserveFile(source, outcome, reason string)
	ObserveBatch(source, result string)
	ObserveResolve(scheme string, ok bool, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveFile(string, string, string) {}
func (nopRecorder) ObserveBatch(string, string) {}
func (nopRecorder) ObserveResolve(string, bool, time.Duration) {}
