package models

import (
	"encoding/json"
	"testing"
)

func TestArchiveKey(t *testing.T) {
	tests := []struct {
		payload string
		source  string
		name    string
		ok      bool
	}{
		{`{"archive": {"source": "build", "name": "linux-amd64"}}`, "build", "linux-amd64", true},
		{`{"archive": {"source": "build"}}`, "", "", false},
		{`{"archive": {}}`, "", "", false},
		{`{"other": "stuff"}`, "", "", false},
		{`{}`, "", "", false},
		{`not json`, "", "", false},
	}
	for _, tt := range tests {
		o := &Order{Payload: json.RawMessage(tt.payload)}
		key, ok := o.ArchiveKey()
		if ok != tt.ok {
			t.Errorf("ArchiveKey(%s): got ok=%t, want %t", tt.payload, ok, tt.ok)
			continue
		}
		if key.Source != tt.source || key.Name != tt.name {
			t.Errorf("ArchiveKey(%s): got %q/%q, want %q/%q", tt.payload, key.Source, key.Name, tt.source, tt.name)
		}
	}
}

func TestOrderStatusScan(t *testing.T) {
	var s OrderStatus
	if err := s.Scan("working"); err != nil {
		t.Fatal(err)
	}
	if s != StatusWorking {
		t.Errorf("got %q, want %q", s, StatusWorking)
	}
	if err := s.Scan([]byte("error")); err != nil {
		t.Fatal(err)
	}
	if s != StatusError {
		t.Errorf("got %q, want %q", s, StatusError)
	}
	if err := s.Scan(7); err == nil {
		t.Error("expected an error scanning an int, got nil")
	}
}

func TestNullInt64JSON(t *testing.T) {
	b, err := json.Marshal(NullInt64{Valid: true, Int64: 3})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "3" {
		t.Errorf("got %s, want 3", b)
	}
	b, err = json.Marshal(NullInt64{})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "null" {
		t.Errorf("got %s, want null", b)
	}

	var ni NullInt64
	if err := json.Unmarshal([]byte("null"), &ni); err != nil {
		t.Fatal(err)
	}
	if ni.Valid {
		t.Error("null should not be valid")
	}
	if err := json.Unmarshal([]byte("42"), &ni); err != nil {
		t.Fatal(err)
	}
	if !ni.Valid || ni.Int64 != 42 {
		t.Errorf("got %+v, want valid 42", ni)
	}
}

func TestWorkerOpen(t *testing.T) {
	w := &Worker{}
	if !w.Open() {
		t.Error("a lease without a finish_time should be open")
	}
	w.FinishTime.Valid = true
	if w.Open() {
		t.Error("a lease with a finish_time should be closed")
	}
}
