package meter

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

const (
	maxNameLength     = 128
	maxDriverIDLength = 64
)

// GenerateID creates a new unique device identifier.
func GenerateID() string {
	return uuid.New().String()
}

// NewToken returns a short random token suitable for composing device ids.
// Tokens are lowercase hex, n characters long (capped at 32).
func NewToken(n int) string {
	if n < 1 {
		n = 1
	}
	if n > 32 {
		n = 32
	}
	id := uuid.New()
	hexStr := strings.ReplaceAll(id.String(), "-", "")
	return hexStr[:n]
}

// ValidateName checks that a device name is non-empty and within limits.
func ValidateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	return nil
}

// ValidateTariff checks that a tariff value is a finite number.
func ValidateTariff(tariff float64) error {
	if math.IsNaN(tariff) || math.IsInf(tariff, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidTariff, tariff)
	}
	return nil
}

// ValidateDevice performs full validation on a device before persistence.
func ValidateDevice(d *Device) error {
	if d == nil {
		return fmt.Errorf("%w: device is nil", ErrInvalidDevice)
	}
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidDevice)
	}
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if strings.TrimSpace(d.DriverID) == "" {
		return fmt.Errorf("%w: driver id is empty", ErrInvalidDevice)
	}
	if len(d.DriverID) > maxDriverIDLength {
		return fmt.Errorf("%w: driver id exceeds %d characters", ErrInvalidDevice, maxDriverIDLength)
	}
	if err := ValidateTariff(d.Tariff); err != nil {
		return err
	}

	switch d.Availability {
	case AvailabilityAvailable, AvailabilityUnavailable, AvailabilityUnknown:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidAvailability, d.Availability)
	}

	return nil
}
