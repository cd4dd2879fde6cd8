package monitor

import "log"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogAlertSink writes alerts to the process log.
type LogAlertSink struct{}

func (LogAlertSink) Send(message string) error {
	log.Printf("🚨 %s", message)
	return nil
}
