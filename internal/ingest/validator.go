// Package ingest validates and deduplicates record batches arriving from
// agents before they reach storage.
package ingest

import (
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"

	"logship/internal/database/models"
)

// ValidationSettings bounds what the ingestion endpoint accepts. Served by
// the settings endpoint and cached by the SettingsProvider.
type ValidationSettings struct {
	MaxBatchSize     int  `json:"maxBatchSize"`
	MaxNameLength    int  `json:"maxNameLength"`
	MaxLineLength    int  `json:"maxLineLength"`
	MaxFutureMinutes int  `json:"maxFutureMinutes"`
	MaxDaysOld       int  `json:"maxDaysOld"`
	AllowEmptyLevel  bool `json:"allowEmptyLevel"`
}

// DefaultValidationSettings are served when the settings endpoint is
// unreachable.
func DefaultValidationSettings() ValidationSettings {
	return ValidationSettings{
		MaxBatchSize:     500,
		MaxNameLength:    200,
		MaxLineLength:    10000,
		MaxFutureMinutes: 5,
		MaxDaysOld:       30,
		AllowEmptyLevel:  false,
	}
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9\-._]+$`)

// RecordError reports why one record in a batch was rejected.
type RecordError struct {
	Index   int    `json:"index"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d: %s %s", e.Index, e.Field, e.Message)
}

// BatchTooLargeError rejects a whole batch over the configured size limit.
type BatchTooLargeError struct {
	Size  int
	Limit int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("batch of %d records exceeds limit of %d", e.Size, e.Limit)
}

// Validator checks individual records against the active settings.
type Validator struct {
	validate *validator.Validate
	clock    clockwork.Clock
}

func NewValidator(clock clockwork.Clock) *Validator {
	return &Validator{
		validate: validator.New(),
		clock:    clock,
	}
}

// ValidateBatch rejects the whole batch when it exceeds MaxBatchSize,
// otherwise validates records independently and partitions them into valid
// records and per-index errors. One malformed record never poisons the
// rest of the batch.
func (v *Validator) ValidateBatch(batch []models.LogRecord, settings ValidationSettings) ([]models.LogRecord, []RecordError, error) {
	if len(batch) > settings.MaxBatchSize {
		return nil, nil, &BatchTooLargeError{Size: len(batch), Limit: settings.MaxBatchSize}
	}

	valid := make([]models.LogRecord, 0, len(batch))
	var errs []RecordError
	for i, rec := range batch {
		if recErrs := v.validateRecord(rec, settings); len(recErrs) > 0 {
			for _, re := range recErrs {
				re.Index = i
				errs = append(errs, re)
			}
			continue
		}
		valid = append(valid, rec)
	}
	return valid, errs, nil
}

func (v *Validator) validateRecord(rec models.LogRecord, s ValidationSettings) []RecordError {
	var errs []RecordError
	fail := func(field, message string) {
		errs = append(errs, RecordError{Field: field, Message: message})
	}

	nameTag := fmt.Sprintf("required,max=%d", s.MaxNameLength)
	if err := v.validate.Var(rec.DeploymentName, nameTag); err != nil {
		fail("deploymentName", fmt.Sprintf("must be non-empty and at most %d characters", s.MaxNameLength))
	} else if !namePattern.MatchString(rec.DeploymentName) {
		fail("deploymentName", "contains characters outside [A-Za-z0-9-._]")
	}

	if err := v.validate.Var(rec.PodName, nameTag); err != nil {
		fail("podName", fmt.Sprintf("must be non-empty and at most %d characters", s.MaxNameLength))
	} else if !namePattern.MatchString(rec.PodName) {
		fail("podName", "contains characters outside [A-Za-z0-9-._]")
	}

	if err := v.validate.Var(rec.Line, fmt.Sprintf("required,max=%d", s.MaxLineLength)); err != nil {
		fail("line", fmt.Sprintf("must be non-empty and at most %d characters", s.MaxLineLength))
	}

	if rec.SequenceNumber <= 0 {
		fail("sequenceNumber", "must be positive")
	}

	now := v.clock.Now()
	switch {
	case rec.TimeStamp.IsZero():
		fail("timeStamp", "must be set")
	case rec.TimeStamp.After(now.Add(time.Duration(s.MaxFutureMinutes) * time.Minute)):
		fail("timeStamp", fmt.Sprintf("more than %d minutes in the future", s.MaxFutureMinutes))
	case rec.TimeStamp.Before(now.AddDate(0, 0, -s.MaxDaysOld)):
		fail("timeStamp", fmt.Sprintf("older than %d days", s.MaxDaysOld))
	}

	if rec.LogLevel == "" {
		if !s.AllowEmptyLevel {
			fail("logLevel", "must be set")
		}
	} else if !rec.LogLevel.Defined() {
		fail("logLevel", fmt.Sprintf("%q is not a known level", rec.LogLevel))
	}

	return errs
}
