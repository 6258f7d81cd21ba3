package jsonx

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestID_Unmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    ID
		wantErr bool
	}{
		{in: `"42"`, want: "42"},
		{in: `42`, want: "42"},
		{in: `"doc-7"`, want: "doc-7"},
		{in: `null`, want: ""},
		{in: `1.5`, want: "1.5"},
		{in: `{}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var got ID
			err := json.Unmarshal([]byte(tt.in), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTime_Unmarshal(t *testing.T) {
	want := time.Date(2024, 3, 9, 8, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		in      string
		want    time.Time
		wantErr bool
	}{
		{name: "rfc3339", in: `"2024-03-09T08:30:00Z"`, want: want},
		{name: "offset", in: `"2024-03-09T15:30:00+07:00"`, want: want},
		{name: "no zone", in: `"2024-03-09T08:30:00"`, want: want},
		{name: "space separated", in: `"2024-03-09 08:30:00"`, want: want},
		{name: "unix millis", in: `1709973000000`, want: want},
		{name: "null", in: `null`},
		{name: "empty string", in: `""`},
		{name: "garbage", in: `"yesterday"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Time
			err := json.Unmarshal([]byte(tt.in), &got)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got.Std()), "got %s", got.Std())
		})
	}
}
