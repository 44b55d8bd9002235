package serial

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Frame
		wantErr error
	}{
		{
			name: "reading",
			raw:  "SEN,temp_001,21.5",
			want: Frame{OriginDeviceID: "sensor_001", Kind: KindReading, MetricName: "temp_001", Value: "21.5"},
		},
		{
			name: "local command with CRLF",
			raw:  "CMD,ele,ON\r\n",
			want: Frame{OriginDeviceID: "sensor_001", Kind: KindLocalCommand, MetricName: "ele", Value: "ON"},
		},
		{
			name: "ack with padding",
			raw:  "  ACK, ele , ON ",
			want: Frame{OriginDeviceID: "sensor_001", Kind: KindAck, MetricName: "ele", Value: "ON"},
		},
		{
			name: "routed command",
			raw:  "CMO,ele,OFF",
			want: Frame{OriginDeviceID: "sensor_001", Kind: KindRoutedCommand, MetricName: "ele", Value: "OFF"},
		},
		{
			name: "empty value allowed",
			raw:  "SEN,door,",
			want: Frame{OriginDeviceID: "sensor_001", Kind: KindReading, MetricName: "door", Value: ""},
		},
		{
			name: "empty metric allowed",
			raw:  "SEN,,5",
			want: Frame{OriginDeviceID: "sensor_001", Kind: KindReading, MetricName: "", Value: "5"},
		},
		{
			name: "ack with empty metric",
			raw:  "ACK,,1",
			want: Frame{OriginDeviceID: "sensor_001", Kind: KindAck, MetricName: "", Value: "1"},
		},
		{name: "empty line", raw: "\r\n", wantErr: ErrMalformedFrame},
		{name: "two fields", raw: "SEN,temp", wantErr: ErrMalformedFrame},
		{name: "four fields", raw: "ele_001,CMO,ele,ON", wantErr: ErrMalformedFrame},
		{name: "unknown kind", raw: "XYZ,temp,1", wantErr: ErrUnknownKind},
		{name: "lowercase kind", raw: "sen,temp,1", wantErr: ErrUnknownKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.raw, "sensor_001")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
				assert.Equal(t, Frame{}, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncode(t *testing.T) {
	assert.Equal(t, "ele_001,CMO,ele,ON", Encode("ele_001", "ele", "ON"))
	assert.Equal(t, "SEN,temp,21.5", EncodeFrame(KindReading, "temp", "21.5"))
}

func TestEncodeDecodeCommand_RoundTrip(t *testing.T) {
	cases := []struct{ device, metric, value string }{
		{"ele_001", "ele", "ON"},
		{"ent_002", "ent", "OFF"},
		{"hvac_1", "hvac", "22.5"},
		{"pump", "pump", ""},
	}
	for _, c := range cases {
		frame, err := DecodeCommand(Encode(c.device, c.metric, c.value))
		require.NoError(t, err)
		assert.Equal(t, KindRoutedCommand, frame.Kind)
		assert.Equal(t, c.device, frame.OriginDeviceID)
		assert.Equal(t, c.metric, frame.MetricName)
		assert.Equal(t, c.value, frame.Value)
	}
}

func TestDecodeCommand_Rejects(t *testing.T) {
	_, err := DecodeCommand("CMO,ele,ON")
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = DecodeCommand("ele_001,CMD,ele,ON")
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = DecodeCommand(",CMO,ele,ON")
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestEncodeFrame_DecodeRoundTrip(t *testing.T) {
	for _, kind := range []Kind{KindReading, KindLocalCommand, KindAck, KindRoutedCommand} {
		frame, err := Decode(EncodeFrame(kind, "ele", "ON"), "controller_001")
		require.NoError(t, err)
		assert.Equal(t, Frame{OriginDeviceID: "controller_001", Kind: kind, MetricName: "ele", Value: "ON"}, frame)
		assert.Equal(t, EncodeFrame(kind, "ele", "ON"), frame.String())
	}
}

func TestKind(t *testing.T) {
	assert.True(t, KindAck.Valid())
	assert.False(t, Kind("FOO").Valid())
	assert.Equal(t, "reading", KindReading.Label())
	assert.Equal(t, "unknown", Kind("FOO").Label())
}

func TestValidateField(t *testing.T) {
	assert.NoError(t, ValidateField("value", "ON"))
	assert.NoError(t, ValidateField("value", ""))
	assert.ErrorIs(t, ValidateField("value", "a,b"), ErrInvalidField)
	assert.ErrorIs(t, ValidateField("value", "on\n"), ErrInvalidField)
	assert.ErrorIs(t, ValidateField("metric", " ele"), ErrInvalidField)
}
