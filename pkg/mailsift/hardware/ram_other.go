//go:build !linux && !darwin

package hardware

// defaultTotalRAM is the fallback when no platform probe exists.
// Set to 8GB as a reasonable default for modern systems.
const defaultTotalRAM = 8 * 1024 * 1024 * 1024

// detectRAM falls back to reasonable defaults on unsupported platforms.
func detectRAM() (total, available int64, err error) {
	return defaultTotalRAM, defaultTotalRAM / 2, nil
}
