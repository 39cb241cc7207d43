package device

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(0)

	if err := r.Register(Device{ID: "lamp-1", Name: "Hall", Ping: true}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(Device{ID: "lamp-1"}); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("Register(duplicate) error = %v, want ErrDeviceExists", err)
	}
	if err := r.Register(Device{ID: ""}); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("Register(empty id) error = %v, want ErrInvalidDevice", err)
	}
	if err := r.Register(Device{ID: "x", Name: strings.Repeat("n", maxNameLength+1)}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("Register(long name) error = %v, want ErrInvalidName", err)
	}

	d, err := r.Get("lamp-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.Name != "Hall" {
		t.Errorf("Name = %q, want Hall", d.Name)
	}

	if _, err := r.Get("missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_NameFallsBackToID(t *testing.T) {
	r := NewRegistry(0)
	if err := r.Register(Device{ID: "plug"}); err != nil {
		t.Fatal(err)
	}
	if got := r.Name("plug"); got != "plug" {
		t.Errorf("Name(plug) = %q", got)
	}
	if got := r.Name("unknown"); got != "unknown" {
		t.Errorf("Name(unknown) = %q", got)
	}
}

func TestRegistry_Pinged(t *testing.T) {
	r := NewRegistry(0)
	for _, d := range []Device{
		{ID: "c", Ping: true},
		{ID: "a", Ping: true},
		{ID: "b", Ping: false},
	} {
		if err := r.Register(d); err != nil {
			t.Fatal(err)
		}
	}

	got := r.Pinged()
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("Pinged() = %v, want [a c]", got)
	}
	if r.IsPinged("b") {
		t.Error("IsPinged(b) = true")
	}
}

func TestRegistry_HumanControlUntil(t *testing.T) {
	r := NewRegistry(10 * time.Minute)
	for _, d := range []Device{
		{ID: "default"},
		{ID: "own", HumanControl: time.Hour},
		{ID: "custom"},
	} {
		if err := r.Register(d); err != nil {
			t.Fatal(err)
		}
	}

	endOfDay := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	if err := r.SetHumanControl("custom", func(time.Time) time.Time { return endOfDay }); err != nil {
		t.Fatal(err)
	}
	if err := r.SetHumanControl("missing", func(time.Time) time.Time { return endOfDay }); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetHumanControl(missing) error = %v", err)
	}

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		id   string
		want time.Time
	}{
		{"default", at.Add(10 * time.Minute)},
		{"own", at.Add(time.Hour)},
		{"custom", endOfDay},
		{"unregistered", at.Add(10 * time.Minute)},
	}
	for _, tt := range tests {
		if got := r.HumanControlUntil(tt.id, at); !got.Equal(tt.want) {
			t.Errorf("HumanControlUntil(%s) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestRegistry_Mutate(t *testing.T) {
	r := NewRegistry(0)
	if err := r.Register(Device{ID: "big"}); err != nil {
		t.Fatal(err)
	}
	if err := r.SetMutation("big", BrightnessTolerance); err != nil {
		t.Fatal(err)
	}

	in := OnBrightness("big", 100)
	out := r.Mutate(in)

	if _, isSet := in.Capabilities[1].Value.(AnyOf); isSet {
		t.Fatal("Mutate modified its input")
	}
	set, ok := out.Capabilities[1].Value.(AnyOf)
	if !ok {
		t.Fatalf("brightness = %T, want AnyOf", out.Capabilities[1].Value)
	}
	if len(set) != 2 || set[0] != 100 || set[1] != 100 {
		t.Errorf("brightness set = %v, want [100 100]", set)
	}

	plain := r.Mutate(OnBrightness("other", 30))
	if plain.Capabilities[1].Value != 30 {
		t.Errorf("unmutated brightness = %v, want 30", plain.Capabilities[1].Value)
	}
}
