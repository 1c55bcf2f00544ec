package domain

import (
	"encoding/json"
	"testing"
)

func TestParseObjectID(t *testing.T) {
	tests := []struct {
		input   string
		want    ObjectID
		wantErr bool
	}{
		{"1.3.0", ObjectID{Space: 1, Type: 3, Instance: 0}, false},
		{"2.4.17", ObjectID{Space: 2, Type: 4, Instance: 17}, false},
		{"1.3", ObjectID{}, true},
		{"1.3.x", ObjectID{}, true},
		{"256.1.1", ObjectID{}, true},
		{"", ObjectID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseObjectID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseObjectID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseObjectID(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTypedIDText(t *testing.T) {
	if got := AssetID(5).String(); got != "1.3.5" {
		t.Errorf("AssetID(5).String() = %q", got)
	}
	if got := BitassetDataID(2).String(); got != "2.4.2" {
		t.Errorf("BitassetDataID(2).String() = %q", got)
	}

	data, err := json.Marshal(map[string]AssetID{"asset": 12})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"asset":"1.3.12"}` {
		t.Errorf("json = %s", data)
	}

	var id AssetID
	if err := id.UnmarshalText([]byte("1.3.12")); err != nil || id != 12 {
		t.Errorf("UnmarshalText(1.3.12) = %d, %v", id, err)
	}
	if err := id.UnmarshalText([]byte("2.3.12")); err == nil {
		t.Error("UnmarshalText accepted an implementation-space id as an asset id")
	}
}
