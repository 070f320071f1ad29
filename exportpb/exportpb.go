// Package exportpb encodes the GAEN key export protobuf messages.
//
// The messages are written directly with protowire so the package does not
// need a protoc/codegen toolchain. Field numbers and wire types follow the
// published export.proto; unknown fields are skipped on decode.
package exportpb

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"xdao.co/ekexport/tek"
)

// ErrMalformed is returned when input bytes are not a valid message.
var ErrMalformed = errors.New("exportpb: malformed message")

// SignatureInfo identifies the key that signed an export.
type SignatureInfo struct {
	VerificationKeyVersion string
	VerificationKeyID      string
	SignatureAlgorithm     string
}

// Export is TemporaryExposureKeyExport.
type Export struct {
	// StartTimestamp and EndTimestamp are carried verbatim; the encoder
	// writes epoch milliseconds.
	StartTimestamp uint64
	EndTimestamp   uint64
	Region         string
	BatchNum       int32
	BatchSize      int32
	SignatureInfos []SignatureInfo
	Keys           []tek.Key
	RevisedKeys    []tek.Key
}

// Signature is TEKSignature.
type Signature struct {
	SignatureInfo SignatureInfo
	BatchNum      int32
	BatchSize     int32
	Signature     []byte
}

// SignatureList is TEKSignatureList.
type SignatureList struct {
	Signatures []Signature
}

const (
	exportStartTimestamp protowire.Number = 1
	exportEndTimestamp   protowire.Number = 2
	exportRegion         protowire.Number = 3
	exportBatchNum       protowire.Number = 4
	exportBatchSize      protowire.Number = 5
	exportSignatureInfos protowire.Number = 6
	exportKeys           protowire.Number = 7
	exportRevisedKeys    protowire.Number = 8

	infoKeyVersion protowire.Number = 3
	infoKeyID      protowire.Number = 4
	infoAlgorithm  protowire.Number = 5

	keyData           protowire.Number = 1
	keyRisk           protowire.Number = 2
	keyRollingStart   protowire.Number = 3
	keyRollingPeriod  protowire.Number = 4
	keyReportType     protowire.Number = 5
	keyDaysSinceOnset protowire.Number = 6

	listSignatures protowire.Number = 1

	sigInfo      protowire.Number = 1
	sigBatchNum  protowire.Number = 2
	sigBatchSize protowire.Number = 3
	sigBytes     protowire.Number = 4
)

// Marshal encodes e in field-number order.
func (e *Export) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, exportStartTimestamp, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, e.StartTimestamp)
	b = protowire.AppendTag(b, exportEndTimestamp, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, e.EndTimestamp)
	b = protowire.AppendTag(b, exportRegion, protowire.BytesType)
	b = protowire.AppendString(b, e.Region)
	b = appendInt32(b, exportBatchNum, e.BatchNum)
	b = appendInt32(b, exportBatchSize, e.BatchSize)
	for _, si := range e.SignatureInfos {
		b = protowire.AppendTag(b, exportSignatureInfos, protowire.BytesType)
		b = protowire.AppendBytes(b, si.Marshal())
	}
	for _, k := range e.Keys {
		b = protowire.AppendTag(b, exportKeys, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalKey(k))
	}
	for _, k := range e.RevisedKeys {
		b = protowire.AppendTag(b, exportRevisedKeys, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalKey(k))
	}
	return b
}

// Marshal encodes the non-empty fields of si.
func (si SignatureInfo) Marshal() []byte {
	var b []byte
	b = appendString(b, infoKeyVersion, si.VerificationKeyVersion)
	b = appendString(b, infoKeyID, si.VerificationKeyID)
	b = appendString(b, infoAlgorithm, si.SignatureAlgorithm)
	return b
}

func marshalKey(k tek.Key) []byte {
	var b []byte
	b = protowire.AppendTag(b, keyData, protowire.BytesType)
	b = protowire.AppendBytes(b, k.KeyData)
	b = appendInt32(b, keyRisk, k.TransmissionRiskLevel)
	b = appendInt32(b, keyRollingStart, int32(k.RollingStartIntervalNumber))
	b = appendInt32(b, keyRollingPeriod, int32(k.RollingPeriod))
	if k.ReportType != tek.ReportTypeUnknown {
		b = appendInt32(b, keyReportType, int32(k.ReportType))
	}
	if k.DaysSinceOnsetOfSymptoms != nil {
		b = protowire.AppendTag(b, keyDaysSinceOnset, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(*k.DaysSinceOnsetOfSymptoms)))
	}
	return b
}

// Marshal encodes l.
func (l *SignatureList) Marshal() []byte {
	var b []byte
	for _, s := range l.Signatures {
		b = protowire.AppendTag(b, listSignatures, protowire.BytesType)
		b = protowire.AppendBytes(b, s.Marshal())
	}
	return b
}

// Marshal encodes s.
func (s Signature) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, sigInfo, protowire.BytesType)
	b = protowire.AppendBytes(b, s.SignatureInfo.Marshal())
	b = appendInt32(b, sigBatchNum, s.BatchNum)
	b = appendInt32(b, sigBatchSize, s.BatchSize)
	b = protowire.AppendTag(b, sigBytes, protowire.BytesType)
	b = protowire.AppendBytes(b, s.Signature)
	return b
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	// int32 is sign-extended to 64 bits on the wire.
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// field is one decoded tag/value pair.
type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	fixed  uint64
	bytes  []byte
}

// walk calls fn for each field in b. Groups are rejected.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.fixed, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.fixed = uint64(v)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(b)
		default:
			return fmt.Errorf("%w: unsupported wire type %d for field %d", ErrMalformed, typ, num)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func expect(f field, typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("%w: field %d has wire type %d, want %d", ErrMalformed, f.num, f.typ, typ)
	}
	return nil
}

// UnmarshalExport decodes a TemporaryExposureKeyExport body (without header).
func UnmarshalExport(b []byte) (*Export, error) {
	e := &Export{}
	err := walk(b, func(f field) error {
		switch f.num {
		case exportStartTimestamp:
			if err := expect(f, protowire.Fixed64Type); err != nil {
				return err
			}
			e.StartTimestamp = f.fixed
		case exportEndTimestamp:
			if err := expect(f, protowire.Fixed64Type); err != nil {
				return err
			}
			e.EndTimestamp = f.fixed
		case exportRegion:
			if err := expect(f, protowire.BytesType); err != nil {
				return err
			}
			e.Region = string(f.bytes)
		case exportBatchNum:
			if err := expect(f, protowire.VarintType); err != nil {
				return err
			}
			e.BatchNum = int32(f.varint)
		case exportBatchSize:
			if err := expect(f, protowire.VarintType); err != nil {
				return err
			}
			e.BatchSize = int32(f.varint)
		case exportSignatureInfos:
			if err := expect(f, protowire.BytesType); err != nil {
				return err
			}
			si, err := unmarshalSignatureInfo(f.bytes)
			if err != nil {
				return err
			}
			e.SignatureInfos = append(e.SignatureInfos, si)
		case exportKeys, exportRevisedKeys:
			if err := expect(f, protowire.BytesType); err != nil {
				return err
			}
			k, err := unmarshalKey(f.bytes)
			if err != nil {
				return err
			}
			if f.num == exportKeys {
				e.Keys = append(e.Keys, k)
			} else {
				e.RevisedKeys = append(e.RevisedKeys, k)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func unmarshalSignatureInfo(b []byte) (SignatureInfo, error) {
	var si SignatureInfo
	err := walk(b, func(f field) error {
		var dst *string
		switch f.num {
		case infoKeyVersion:
			dst = &si.VerificationKeyVersion
		case infoKeyID:
			dst = &si.VerificationKeyID
		case infoAlgorithm:
			dst = &si.SignatureAlgorithm
		default:
			return nil
		}
		if err := expect(f, protowire.BytesType); err != nil {
			return err
		}
		*dst = string(f.bytes)
		return nil
	})
	return si, err
}

func unmarshalKey(b []byte) (tek.Key, error) {
	var k tek.Key
	err := walk(b, func(f field) error {
		if f.num == keyData {
			if err := expect(f, protowire.BytesType); err != nil {
				return err
			}
			k.KeyData = append([]byte(nil), f.bytes...)
			return nil
		}
		switch f.num {
		case keyRisk, keyRollingStart, keyRollingPeriod, keyReportType, keyDaysSinceOnset:
			if err := expect(f, protowire.VarintType); err != nil {
				return err
			}
		default:
			return nil
		}
		switch f.num {
		case keyRisk:
			k.TransmissionRiskLevel = int32(f.varint)
		case keyRollingStart:
			k.RollingStartIntervalNumber = uint32(f.varint)
		case keyRollingPeriod:
			k.RollingPeriod = uint32(f.varint)
		case keyReportType:
			k.ReportType = tek.ReportType(int32(f.varint))
		case keyDaysSinceOnset:
			d := int32(protowire.DecodeZigZag(f.varint))
			k.DaysSinceOnsetOfSymptoms = &d
		}
		return nil
	})
	return k, err
}

// UnmarshalSignatureList decodes a TEKSignatureList.
func UnmarshalSignatureList(b []byte) (*SignatureList, error) {
	l := &SignatureList{}
	err := walk(b, func(f field) error {
		if f.num != listSignatures {
			return nil
		}
		if err := expect(f, protowire.BytesType); err != nil {
			return err
		}
		s, err := unmarshalSignature(f.bytes)
		if err != nil {
			return err
		}
		l.Signatures = append(l.Signatures, s)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

func unmarshalSignature(b []byte) (Signature, error) {
	var s Signature
	err := walk(b, func(f field) error {
		switch f.num {
		case sigInfo:
			if err := expect(f, protowire.BytesType); err != nil {
				return err
			}
			si, err := unmarshalSignatureInfo(f.bytes)
			if err != nil {
				return err
			}
			s.SignatureInfo = si
		case sigBatchNum, sigBatchSize:
			if err := expect(f, protowire.VarintType); err != nil {
				return err
			}
			if f.num == sigBatchNum {
				s.BatchNum = int32(f.varint)
			} else {
				s.BatchSize = int32(f.varint)
			}
		case sigBytes:
			if err := expect(f, protowire.BytesType); err != nil {
				return err
			}
			s.Signature = append([]byte(nil), f.bytes...)
		}
		return nil
	})
	return s, err
}
