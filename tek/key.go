// Package tek models GAEN temporary exposure keys.
package tek

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

const (
	// KeyLength is the size of a temporary exposure key in bytes.
	KeyLength = 16

	// MaxRollingPeriod is the number of intervals in one day; a key is never
	// valid for longer than that.
	MaxRollingPeriod = 144

	MinTransmissionRisk = 0
	MaxTransmissionRisk = 8

	// MaxDaysSinceOnset bounds DaysSinceOnsetOfSymptoms in either direction.
	MaxDaysSinceOnset = 14

	// IntervalLength is the width of one rolling interval.
	IntervalLength = 10 * time.Minute
)

// ReportType is the diagnosis verification type attached to a key.
type ReportType int32

const (
	ReportTypeUnknown ReportType = iota
	ReportTypeConfirmedTest
	ReportTypeConfirmedClinicalDiagnosis
	ReportTypeSelfReport
	ReportTypeRecursive
	ReportTypeRevoked
)

func (r ReportType) String() string {
	switch r {
	case ReportTypeUnknown:
		return "unknown"
	case ReportTypeConfirmedTest:
		return "confirmed_test"
	case ReportTypeConfirmedClinicalDiagnosis:
		return "confirmed_clinical_diagnosis"
	case ReportTypeSelfReport:
		return "self_report"
	case ReportTypeRecursive:
		return "recursive"
	case ReportTypeRevoked:
		return "revoked"
	default:
		return fmt.Sprintf("report_type(%d)", int32(r))
	}
}

// Key is a temporary exposure key as handed over by the exposure
// notification framework. Values are treated as immutable once constructed.
type Key struct {
	KeyData                    []byte
	RollingStartIntervalNumber uint32
	RollingPeriod              uint32
	TransmissionRiskLevel      int32

	// ReportType and DaysSinceOnsetOfSymptoms are optional; the zero
	// ReportType and a nil DaysSinceOnsetOfSymptoms are left off the wire.
	ReportType               ReportType
	DaysSinceOnsetOfSymptoms *int32
}

// IntervalNumber returns the rolling interval containing t.
func IntervalNumber(t time.Time) uint32 {
	return uint32(t.UTC().Unix() / int64(IntervalLength/time.Second))
}

// IntervalTime returns the start of the given rolling interval.
func IntervalTime(n uint32) time.Time {
	return time.Unix(int64(n)*int64(IntervalLength/time.Second), 0).UTC()
}

// StartTime is when the key began being broadcast.
func (k Key) StartTime() time.Time {
	return IntervalTime(k.RollingStartIntervalNumber)
}

// EndTime is the first instant at which the key is no longer valid.
func (k Key) EndTime() time.Time {
	return IntervalTime(k.RollingStartIntervalNumber + k.RollingPeriod)
}

// String never prints key material.
func (k Key) String() string {
	return fmt.Sprintf("tek{start=%d period=%d risk=%d}", k.RollingStartIntervalNumber, k.RollingPeriod, k.TransmissionRiskLevel)
}

// EncodedKeyData returns the key bytes in standard base64, the form used by
// diagnosis-key publish APIs.
func (k Key) EncodedKeyData() string {
	return base64.StdEncoding.EncodeToString(k.KeyData)
}

// Validate checks the key against the GAEN constraints.
func (k Key) Validate() error {
	if l := len(k.KeyData); l != KeyLength {
		return newError(KindKeyData, "TEK-DATA-001", fmt.Sprintf("key data must be %d bytes, got %d", KeyLength, l))
	}
	if k.RollingPeriod == 0 || k.RollingPeriod > MaxRollingPeriod {
		return newError(KindInterval, "TEK-INT-001", fmt.Sprintf("rolling period must be in [1, %d], got %d", MaxRollingPeriod, k.RollingPeriod))
	}
	if k.RollingStartIntervalNumber == 0 {
		return newError(KindInterval, "TEK-INT-002", "rolling start interval number is required")
	}
	if k.TransmissionRiskLevel < MinTransmissionRisk || k.TransmissionRiskLevel > MaxTransmissionRisk {
		return newError(KindRisk, "TEK-RISK-001", fmt.Sprintf("transmission risk level must be in [%d, %d], got %d", MinTransmissionRisk, MaxTransmissionRisk, k.TransmissionRiskLevel))
	}
	if k.ReportType < ReportTypeUnknown || k.ReportType > ReportTypeRevoked {
		return newError(KindReport, "TEK-RPT-001", fmt.Sprintf("unknown report type %d", int32(k.ReportType)))
	}
	if d := k.DaysSinceOnsetOfSymptoms; d != nil && (*d < -MaxDaysSinceOnset || *d > MaxDaysSinceOnset) {
		return newError(KindReport, "TEK-RPT-002", fmt.Sprintf("days since onset must be in [-%d, %d], got %d", MaxDaysSinceOnset, MaxDaysSinceOnset, *d))
	}
	return nil
}

// ValidateAll validates keys in order and reports the first failure with
// its index.
func ValidateAll(keys []Key) error {
	for i, k := range keys {
		if err := k.Validate(); err != nil {
			var e *Error
			if !errors.As(err, &e) {
				return fmt.Errorf("key %d: %w", i, err)
			}
			return &Error{Kind: e.Kind, RuleID: e.RuleID, Message: fmt.Sprintf("key %d: %s", i, e.Message), Cause: err}
		}
	}
	return nil
}
