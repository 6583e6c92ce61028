package meter

import "errors"

// Sentinel errors for meter device operations.
// Use errors.Is() to check error types, as errors may be wrapped with context.
var (
	// ErrDeviceNotFound - the requested device does not exist.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrDeviceExists - a device with this ID already exists.
	ErrDeviceExists = errors.New("device already exists")

	// ErrInvalidDevice - the device failed validation.
	ErrInvalidDevice = errors.New("invalid device")

	// ErrInvalidName - the device name is empty or too long.
	ErrInvalidName = errors.New("invalid device name")

	// ErrInvalidAvailability - not one of the recognised availability values.
	ErrInvalidAvailability = errors.New("invalid availability")

	// ErrInvalidTariff - the tariff value is not a finite number.
	ErrInvalidTariff = errors.New("invalid tariff value")
)
