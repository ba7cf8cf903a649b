// Copyright 2025-2026 spore.ink

package qq

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"go.mau.fi/util/random"
)

// Device is the persisted session-identity credential for the QQ
// transport. It is generated once and reused across restarts so the
// network treats reconnects as the same logical device and does not
// demand re-verification every time.
type Device struct {
	Protocol   string `json:"protocol"`
	IMEI       string `json:"imei"`
	AndroidID  string `json:"android_id"`
	GUID       string `json:"guid"`
	MACAddress string `json:"mac_address"`
}

// NewRandomDevice generates a fresh device credential.
func NewRandomDevice() *Device {
	mac := make([]string, 6)
	for i := range mac {
		mac[i] = strings.ToLower(random.String(2))
	}
	return &Device{
		Protocol:   "android_watch",
		IMEI:       "86" + random.String(13),
		AndroidID:  strings.ToLower(random.String(16)),
		GUID:       strings.ToLower(random.String(32)),
		MACAddress: strings.Join(mac, ":"),
	}
}

// LoadOrCreateDevice reads the device credential from path, generating
// and persisting a fresh one if the file does not exist. A file that
// exists but cannot be parsed is a fatal error rather than silently
// replaced: overwriting it would change the bridge's device identity.
func LoadOrCreateDevice(path string) (*Device, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		device := NewRandomDevice()
		if err := device.save(path); err != nil {
			return nil, err
		}
		return device, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read device credential %s: %w", path, err)
	}
	var device Device
	if err := json.Unmarshal(data, &device); err != nil {
		return nil, fmt.Errorf("corrupt device credential %s: %w", path, err)
	}
	if device.IMEI == "" || device.GUID == "" {
		return nil, fmt.Errorf("corrupt device credential %s: missing identity fields", path)
	}
	return &device, nil
}

func (d *Device) save(path string) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode device credential: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write device credential %s: %w", path, err)
	}
	return nil
}
