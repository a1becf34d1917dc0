package models

import (
	"time"
)

// LogLevel is the severity of a log line. The zero value LevelAny means
// "unclassified" and sorts below every real level.
type LogLevel string

const (
	LevelAny         LogLevel = "Any"
	LevelTrace       LogLevel = "Trace"
	LevelDebug       LogLevel = "Debug"
	LevelInformation LogLevel = "Information"
	LevelWarning     LogLevel = "Warning"
	LevelError       LogLevel = "Error"
)

var levelOrdinals = map[LogLevel]int{
	LevelAny:         0,
	LevelTrace:       1,
	LevelDebug:       2,
	LevelInformation: 3,
	LevelWarning:     4,
	LevelError:       5,
}

// Ordinal returns the numeric rank of the level (Any < Trace < Debug <
// Information < Warning < Error). Unknown levels rank as Any.
func (l LogLevel) Ordinal() int {
	return levelOrdinals[l]
}

// Defined reports whether l is one of the known level values.
func (l LogLevel) Defined() bool {
	_, ok := levelOrdinals[l]
	return ok
}

// ParseLevel maps a level name to a LogLevel, case-insensitively via the
// common aliases. Unknown names map to LevelAny with ok=false.
func ParseLevel(s string) (LogLevel, bool) {
	switch s {
	case "Any", "any":
		return LevelAny, true
	case "Trace", "trace", "TRACE", "VERBOSE", "verbose":
		return LevelTrace, true
	case "Debug", "debug", "DEBUG", "DBG", "dbg":
		return LevelDebug, true
	case "Information", "information", "Info", "info", "INFO", "INFORMATION":
		return LevelInformation, true
	case "Warning", "warning", "Warn", "warn", "WARN", "WARNING":
		return LevelWarning, true
	case "Error", "error", "ERROR", "FATAL", "fatal", "CRITICAL", "critical":
		return LevelError, true
	}
	return LevelAny, false
}

// LogRecord is one parsed log line, both the wire format between agent and
// server and the stored row.
type LogRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	DeploymentName string    `gorm:"not null;index;size:200" json:"deploymentName"`
	PodName        string    `gorm:"not null;index:idx_pod_time;size:200" json:"podName"`
	Line           string    `gorm:"not null;type:text" json:"line"`
	LogLevel       LogLevel  `gorm:"index;size:16" json:"logLevel"`
	SequenceNumber int64     `gorm:"not null" json:"sequenceNumber"`
	Fingerprint    string    `gorm:"index;size:16" json:"fingerprint"`
	TimeStamp      time.Time `gorm:"not null;index:idx_pod_time" json:"timeStamp"`
	ReceivedAt     time.Time `gorm:"autoCreateTime" json:"-"`
}

func (LogRecord) TableName() string {
	return "log_records"
}
