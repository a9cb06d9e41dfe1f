// Package store persists the local identity keypair and paired-device
// records to flat text files.
package store

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/littledino2112/universal-clipboard/crypto"
)

// Device is a paired peer: its display name, static public key, and
// last-known network endpoint (empty if never connected, or unknown for
// a legacy record).
type Device struct {
	Name      string
	PublicKey [32]byte
	Host      string
	Port      int
}

// Store persists identity and paired-device records under a base
// directory. All operations are serialized by an internal mutex; callers
// outside this package never need their own locking.
type Store struct {
	mu           sync.Mutex
	identityPath string
	devicesPath  string
}

// Open prepares a Store rooted at dir, creating the directory if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create directory: %w", err)
	}
	return &Store{
		identityPath: filepath.Join(dir, "identity"),
		devicesPath:  filepath.Join(dir, "paired_devices"),
	}, nil
}

// LoadIdentity reads the persisted identity keypair, or returns
// (nil, nil) if none has been saved yet.
func (s *Store) LoadIdentity() (*crypto.KeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.identityPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: read identity: %w", err)
	}
	kp, err := crypto.FromHex(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("store: parse identity: %w", err)
	}
	return kp, nil
}

// SaveIdentity persists the identity's private key hex.
func (s *Store) SaveIdentity(kp *crypto.KeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.identityPath, []byte(kp.PrivateHex()+"\n"), 0o600); err != nil {
		return fmt.Errorf("store: write identity: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"function":   "Store.SaveIdentity",
		"public_key": crypto.ShortKeyID(kp.Public[:]),
	}).Info("saved identity")
	return nil
}

// LoadDevices returns every paired-device record, keyed by name.
//
// Each line is "name=pubkey_hex,host,port". For backward compatibility
// with the legacy format that predates endpoint tracking, a line with no
// commas is accepted as "name=pubkey_hex" with Host/Port left zero.
func (s *Store) LoadDevices() (map[string]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadDevicesLocked()
}

func (s *Store) loadDevicesLocked() (map[string]Device, error) {
	devices := make(map[string]Device)

	f, err := os.Open(s.devicesPath)
	if os.IsNotExist(err) {
		return devices, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open devices: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		dev, err := parseDeviceLine(line)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Store.LoadDevices",
				"line":     line,
			}).Warn("skipping malformed paired-device line: ", err)
			continue
		}
		devices[dev.Name] = dev
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("store: scan devices: %w", err)
	}
	return devices, nil
}

func parseDeviceLine(line string) (Device, error) {
	name, rest, ok := strings.Cut(line, "=")
	if !ok {
		return Device{}, fmt.Errorf("missing '=' separator")
	}

	parts := strings.Split(rest, ",")
	pubHex := parts[0]
	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != 32 {
		return Device{}, fmt.Errorf("invalid public key hex")
	}

	dev := Device{Name: name}
	copy(dev.PublicKey[:], pub)

	switch len(parts) {
	case 1:
		// legacy "name=pubkeyhex" form, no endpoint recorded.
	case 3:
		dev.Host = parts[1]
		if parts[2] != "" {
			var port int
			if _, err := fmt.Sscanf(parts[2], "%d", &port); err != nil {
				return Device{}, fmt.Errorf("invalid port: %w", err)
			}
			dev.Port = port
		}
	default:
		return Device{}, fmt.Errorf("expected 1 or 3 comma-separated fields, got %d", len(parts))
	}
	return dev, nil
}

func formatDeviceLine(d Device) string {
	return fmt.Sprintf("%s=%s,%s,%s", d.Name, hex.EncodeToString(d.PublicKey[:]), d.Host, portString(d.Port))
}

func portString(port int) string {
	if port == 0 {
		return ""
	}
	return fmt.Sprintf("%d", port)
}

// SaveDevice creates or overwrites the record for d.Name.
func (s *Store) SaveDevice(d Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices, err := s.loadDevicesLocked()
	if err != nil {
		return err
	}
	devices[d.Name] = d
	return s.writeDevicesLocked(devices)
}

// RemoveDevice deletes the paired-device record for name, if present.
func (s *Store) RemoveDevice(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices, err := s.loadDevicesLocked()
	if err != nil {
		return err
	}
	delete(devices, name)
	return s.writeDevicesLocked(devices)
}

func (s *Store) writeDevicesLocked(devices map[string]Device) error {
	var b strings.Builder
	for _, d := range devices {
		b.WriteString(formatDeviceLine(d))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(s.devicesPath, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("store: write devices: %w", err)
	}
	return nil
}

// FindDeviceByKey returns the device record whose public key matches pub,
// if any.
func (s *Store) FindDeviceByKey(pub []byte) (Device, bool, error) {
	devices, err := s.LoadDevices()
	if err != nil {
		return Device{}, false, err
	}
	for _, d := range devices {
		if hex.EncodeToString(d.PublicKey[:]) == hex.EncodeToString(pub) {
			return d, true, nil
		}
	}
	return Device{}, false, nil
}
