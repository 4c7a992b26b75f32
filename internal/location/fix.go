// Package location turns device location fixes into MQTT publications.
package location

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// Fix is one location reading of the device.
type Fix struct {
	Timestamp time.Time
	Latitude  float64
	Longitude float64
	Accuracy  float32
}

type Encoding string

const (
	EncodingJSON   Encoding = "json"
	EncodingBinary Encoding = "binary"
)

const (
	payloadVersion    = 1
	binaryPayloadSize = 29
)

var ErrInvalidPayload = errors.New("invalid location payload")

func ParseEncoding(name string) (Encoding, error) {
	switch Encoding(strings.ToLower(name)) {
	case "", EncodingJSON:
		return EncodingJSON, nil
	case EncodingBinary:
		return EncodingBinary, nil
	}
	return "", fmt.Errorf("unknown location encoding %q", name)
}

// jsonFix keeps the field order of the wire format.
type jsonFix struct {
	Version   int     `json:"v"`
	Timestamp int64   `json:"ts"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Accuracy  float32 `json:"acc"`
}

func Encode(fix Fix, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingJSON, "":
		return json.Marshal(jsonFix{
			Version:   payloadVersion,
			Timestamp: fix.Timestamp.UnixMilli(),
			Latitude:  fix.Latitude,
			Longitude: fix.Longitude,
			Accuracy:  fix.Accuracy,
		})
	case EncodingBinary:
		buf := make([]byte, binaryPayloadSize)
		buf[0] = payloadVersion
		binary.BigEndian.PutUint64(buf[1:9], uint64(fix.Timestamp.UnixMilli()))
		binary.BigEndian.PutUint64(buf[9:17], math.Float64bits(fix.Latitude))
		binary.BigEndian.PutUint64(buf[17:25], math.Float64bits(fix.Longitude))
		binary.BigEndian.PutUint32(buf[25:29], math.Float32bits(fix.Accuracy))
		return buf, nil
	}
	return nil, fmt.Errorf("unknown location encoding %q", encoding)
}

// Decode accepts both payload forms. A JSON payload always starts with '{',
// which is never a valid binary version byte.
func Decode(payload []byte) (Fix, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var raw jsonFix
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return Fix{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if raw.Version != payloadVersion {
			return Fix{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidPayload, raw.Version)
		}
		return Fix{
			Timestamp: time.UnixMilli(raw.Timestamp).UTC(),
			Latitude:  raw.Latitude,
			Longitude: raw.Longitude,
			Accuracy:  raw.Accuracy,
		}, nil
	}

	if len(payload) != binaryPayloadSize {
		return Fix{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPayload, binaryPayloadSize, len(payload))
	}
	if payload[0] != payloadVersion {
		return Fix{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidPayload, payload[0])
	}
	return Fix{
		Timestamp: time.UnixMilli(int64(binary.BigEndian.Uint64(payload[1:9]))).UTC(),
		Latitude:  math.Float64frombits(binary.BigEndian.Uint64(payload[9:17])),
		Longitude: math.Float64frombits(binary.BigEndian.Uint64(payload[17:25])),
		Accuracy:  math.Float32frombits(binary.BigEndian.Uint32(payload[25:29])),
	}, nil
}

var ErrInvalidDeviceID = errors.New("invalid device id")

const earthRadius = 6371000.0 // metres

// Distance is the great-circle distance between two fixes in metres.
func Distance(a, b Fix) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(math.Min(1, h)))
}

// ValidateDeviceID checks that deviceID forms exactly one topic level, so
// fixes land on a topic matched by device/+/location.
func ValidateDeviceID(deviceID string) error {
	if strings.TrimSpace(deviceID) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidDeviceID)
	}
	if i := strings.IndexAny(deviceID, "/+#\x00"); i >= 0 {
		return fmt.Errorf("%w: %q contains %q", ErrInvalidDeviceID, deviceID, deviceID[i])
	}
	if !utf8.ValidString(deviceID) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidDeviceID)
	}
	return nil
}

// Topic is where fixes of deviceID are published.
func Topic(deviceID string) string {
	return "device/" + deviceID + "/location"
}
