package meter

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func nan() float64 { return math.NaN() }

func TestGenerateID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateID()
		if id == "" {
			t.Fatal("GenerateID() returned empty string")
		}
		if seen[id] {
			t.Fatalf("GenerateID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestNewToken(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		wantLen int
	}{
		{"short", 6, 6},
		{"full", 32, 32},
		{"clamped low", 0, 1},
		{"clamped high", 64, 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := NewToken(tt.n)
			if len(token) != tt.wantLen {
				t.Errorf("NewToken(%d) length = %d, want %d", tt.n, len(token), tt.wantLen)
			}
			for _, c := range token {
				if !strings.ContainsRune("0123456789abcdef", c) {
					t.Errorf("NewToken(%d) contains non-hex char %q", tt.n, c)
				}
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "Heat Pump Σpower_sum", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"max length", strings.Repeat("a", 128), false},
		{"too long", strings.Repeat("a", 129), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("ValidateName(%q) error = %v, want ErrInvalidName", tt.input, err)
			}
		})
	}
}

func TestValidateTariff(t *testing.T) {
	tests := []struct {
		name    string
		tariff  float64
		wantErr bool
	}{
		{"positive", 0.31, false},
		{"zero", 0, false},
		{"negative", -0.05, false}, // feed-in tariffs can be negative
		{"nan", math.NaN(), true},
		{"positive inf", math.Inf(1), true},
		{"negative inf", math.Inf(-1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTariff(tt.tariff)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTariff(%v) error = %v, wantErr %v", tt.tariff, err, tt.wantErr)
			}
		})
	}
}

func TestValidateDevice(t *testing.T) {
	valid := func() *Device {
		return &Device{
			ID:           "dev-1",
			Name:         "Solar Σpower_sum",
			DriverID:     "power_sum",
			Availability: AvailabilityUnknown,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Device)
		wantErr error
	}{
		{"valid", func(*Device) {}, nil},
		{"empty id", func(d *Device) { d.ID = "" }, ErrInvalidDevice},
		{"empty name", func(d *Device) { d.Name = "" }, ErrInvalidName},
		{"empty driver", func(d *Device) { d.DriverID = "" }, ErrInvalidDevice},
		{"long driver", func(d *Device) { d.DriverID = strings.Repeat("x", 65) }, ErrInvalidDevice},
		{"nan tariff", func(d *Device) { d.Tariff = math.NaN() }, ErrInvalidTariff},
		{"bad availability", func(d *Device) { d.Availability = "sideways" }, ErrInvalidAvailability},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(d)
			err := ValidateDevice(d)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDevice() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDevice() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateDevice(nil); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("ValidateDevice(nil) error = %v, want ErrInvalidDevice", err)
	}
}

func TestSettingsMode(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		want     UpdateMode
	}{
		{"flow", Settings{MeterViaFlow: true}, ModeFlow},
		{"flow wins over measure", Settings{MeterViaFlow: true, UseMeasureSource: true}, ModeFlow},
		{"measure", Settings{UseMeasureSource: true}, ModeMeasure},
		{"poll default", Settings{}, ModePoll},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.settings.Mode(); got != tt.want {
				t.Errorf("Mode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSettingsGroup(t *testing.T) {
	tests := []struct {
		name  string
		group int
		want  int
	}{
		{"explicit", 3, 3},
		{"absent implies one", 0, 1},
		{"negative implies one", -2, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Settings{TariffUpdateGroup: tt.group}
			if got := s.Group(); got != tt.want {
				t.Errorf("Group() = %d, want %d", got, tt.want)
			}
		})
	}
}
