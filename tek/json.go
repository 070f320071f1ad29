package tek

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// jsonKey is the publish-API shape of a key: key data travels as base64.
type jsonKey struct {
	Key                        string `json:"key"`
	RollingStartIntervalNumber uint32 `json:"rollingStartNumber"`
	RollingPeriod              uint32 `json:"rollingPeriod"`
	TransmissionRisk           int32  `json:"transmissionRisk"`
	ReportType                 string `json:"reportType,omitempty"`
	DaysSinceOnsetOfSymptoms   *int32 `json:"daysSinceOnsetOfSymptoms,omitempty"`
}

var reportTypeNames = map[string]ReportType{
	"":                             ReportTypeUnknown,
	"unknown":                      ReportTypeUnknown,
	"confirmed_test":               ReportTypeConfirmedTest,
	"confirmed_clinical_diagnosis": ReportTypeConfirmedClinicalDiagnosis,
	"self_report":                  ReportTypeSelfReport,
	"recursive":                    ReportTypeRecursive,
	"revoked":                      ReportTypeRevoked,
}

// ParseReportType maps the publish-API spelling to a ReportType.
func ParseReportType(s string) (ReportType, error) {
	rt, ok := reportTypeNames[s]
	if !ok {
		return ReportTypeUnknown, newError(KindReport, "TEK-RPT-003", fmt.Sprintf("unknown report type %q", s))
	}
	return rt, nil
}

func (k Key) MarshalJSON() ([]byte, error) {
	out := jsonKey{
		Key:                        k.EncodedKeyData(),
		RollingStartIntervalNumber: k.RollingStartIntervalNumber,
		RollingPeriod:              k.RollingPeriod,
		TransmissionRisk:           k.TransmissionRiskLevel,
		DaysSinceOnsetOfSymptoms:   k.DaysSinceOnsetOfSymptoms,
	}
	if k.ReportType != ReportTypeUnknown {
		out.ReportType = k.ReportType.String()
	}
	return json.Marshal(out)
}

func (k *Key) UnmarshalJSON(b []byte) error {
	var in jsonKey
	if err := json.Unmarshal(b, &in); err != nil {
		return wrapError(KindEncoding, "TEK-ENC-001", "invalid key json", err)
	}
	data, err := base64.StdEncoding.DecodeString(in.Key)
	if err != nil {
		return wrapError(KindEncoding, "TEK-ENC-002", "invalid key data base64", err)
	}
	rt, err := ParseReportType(in.ReportType)
	if err != nil {
		return err
	}
	*k = Key{
		KeyData:                    data,
		RollingStartIntervalNumber: in.RollingStartIntervalNumber,
		RollingPeriod:              in.RollingPeriod,
		TransmissionRiskLevel:      in.TransmissionRisk,
		ReportType:                 rt,
		DaysSinceOnsetOfSymptoms:   in.DaysSinceOnsetOfSymptoms,
	}
	return nil
}

// DecodeKeys parses a JSON array of keys.
func DecodeKeys(b []byte) ([]Key, error) {
	var keys []Key
	if err := json.Unmarshal(b, &keys); err != nil {
		var e *Error
		if errors.As(err, &e) {
			return nil, err
		}
		return nil, wrapError(KindEncoding, "TEK-ENC-003", "invalid key list json", err)
	}
	return keys, nil
}
