package relay

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestDecodeMode(t *testing.T) {
	tests := []struct {
		raw   string
		want  Mode
		clean bool
	}{
		{"", ModeManual, true},
		{`"manual"`, ModeManual, true},
		{`"automatic"`, ModeAutomatic, true},
		{`"auto"`, ModeAutomatic, true},
		{`"AUTO"`, ModeManual, false},
		{`true`, ModeManual, false},
		{`{"mode":"automatic"}`, ModeManual, false},
	}
	for _, tt := range tests {
		var raw json.RawMessage
		if tt.raw != "" {
			raw = json.RawMessage(tt.raw)
		}
		got, clean := decodeMode(raw)
		if got != tt.want || clean != tt.clean {
			t.Errorf("decodeMode(%s) = %q, %v; want %q, %v", tt.raw, got, clean, tt.want, tt.clean)
		}
	}
}

func TestDecodeStatus(t *testing.T) {
	c := DefaultCatalog()
	allFalse := map[DeviceKey]bool{
		DeviceLight: false, DeviceFan: false, DevicePump: false, DeviceFertA: false, DeviceFertB: false,
	}
	with := func(changes map[DeviceKey]bool) map[DeviceKey]bool {
		m := make(map[DeviceKey]bool, len(allFalse))
		for k, v := range allFalse {
			m[k] = v
		}
		for k, v := range changes {
			m[k] = v
		}
		return m
	}

	tests := []struct {
		name  string
		raw   string
		want  map[DeviceKey]bool
		clean bool
	}{
		{"absent", "", allFalse, true},
		{"partial", `{"light":true}`, with(map[DeviceKey]bool{DeviceLight: true}), true},
		{"unknown keys ignored", `{"heater":true,"pump":true}`, with(map[DeviceKey]bool{DevicePump: true}), true},
		{"non-boolean value", `{"fan":"on","fertA":true}`, with(map[DeviceKey]bool{DeviceFertA: true}), false},
		{"not an object", `[true,false]`, allFalse, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw json.RawMessage
			if tt.raw != "" {
				raw = json.RawMessage(tt.raw)
			}
			got, clean := decodeStatus(raw, c)
			if !reflect.DeepEqual(got, tt.want) || clean != tt.clean {
				t.Errorf("decodeStatus() = %v, %v; want %v, %v", got, clean, tt.want, tt.clean)
			}
		})
	}
}

func TestDecodeSchedule(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		name  string
		raw   string
		want  map[DeviceKey]Schedule
		clean bool
	}{
		{"absent", "", map[DeviceKey]Schedule{}, true},
		{
			name: "meaningful slots only",
			raw: `{
				"light": {"period1": {"start":"06:00","end":"12:00"}, "period3": {"start":"01:00","end":"02:00"}},
				"pump":  {"period1": {"start":"06:00"}, "period2": {"start":"07:00","end":"07:15"}},
				"fertA": {"period1": {"start":"06:00","end":"06:05"}},
				"heater": {"period1": {"start":"06:00","end":"06:05"}}
			}`,
			want: map[DeviceKey]Schedule{
				DeviceLight: {"period1": {Start: "06:00", End: "12:00"}},
				DevicePump:  {"period1": {Start: "06:00"}},
			},
			clean: true,
		},
		{
			name:  "empty periods dropped",
			raw:   `{"fan": {"period1": {"start":"","end":""}}}`,
			want:  map[DeviceKey]Schedule{},
			clean: true,
		},
		{
			name:  "wrong field types",
			raw:   `{"fan": {"period1": {"start":830,"end":"09:00"}, "period2": "never"}}`,
			want:  map[DeviceKey]Schedule{DeviceFan: {"period1": {End: "09:00"}}},
			clean: false,
		},
		{"not an object", `"off"`, map[DeviceKey]Schedule{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw json.RawMessage
			if tt.raw != "" {
				raw = json.RawMessage(tt.raw)
			}
			got, clean := decodeSchedule(raw, c)
			if !reflect.DeepEqual(got, tt.want) || clean != tt.clean {
				t.Errorf("decodeSchedule() = %v, %v; want %v, %v", got, clean, tt.want, tt.clean)
			}
		})
	}
}
