package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// GPIOSource reads a sysfs GPIO value file ("0" or "1").
type GPIOSource struct {
	Path      string
	ActiveLow bool
}

// NewGPIOSource reads /sys/class/gpio/gpio<pin>/value unless path
// overrides it. With activeLow the sensor pulls the line low on detection.
func NewGPIOSource(pin int, activeLow bool, path string) *GPIOSource {
	if path == "" {
		path = fmt.Sprintf("/sys/class/gpio/gpio%d/value", pin)
	}
	return &GPIOSource{Path: path, ActiveLow: activeLow}
}

func (s *GPIOSource) Name() string { return "gpio:" + s.Path }

func (s *GPIOSource) Read(context.Context) (bool, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return false, err
	}
	var high bool
	switch strings.TrimSpace(string(data)) {
	case "1":
		high = true
	case "0":
		high = false
	default:
		return false, fmt.Errorf("unexpected gpio value %q", strings.TrimSpace(string(data)))
	}
	return high != s.ActiveLow, nil
}

// FileSource reads a flag file written by another process. The file holds
// either a bare token (1/0, true/false, yes/no, on/off) or a JSON object
// with a boolean "detected" field. A missing file means absent.
type FileSource struct {
	Path string
}

// NewFileSource creates a flag-file source.
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Name() string { return "file:" + s.Path }

func (s *FileSource) Read(context.Context) (bool, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return parseFlag(data)
}

func parseFlag(data []byte) (bool, error) {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, "{") {
		var doc struct {
			Detected *bool  `json:"detected"`
			Error    string `json:"error"`
		}
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return false, fmt.Errorf("decode flag file: %w", err)
		}
		if doc.Error != "" {
			return false, fmt.Errorf("sensor reported: %s", doc.Error)
		}
		if doc.Detected == nil {
			return false, errors.New("flag file has no detected field")
		}
		return *doc.Detected, nil
	}

	switch strings.ToLower(text) {
	case "1", "true", "yes", "on", "present":
		return true, nil
	case "", "0", "false", "no", "off", "absent":
		return false, nil
	}
	return false, fmt.Errorf("unrecognised flag value %q", text)
}

// Static is a constant source, for testing and for kiosks without a sensor.
type Static bool

func (s Static) Name() string { return "static" }

func (s Static) Read(context.Context) (bool, error) { return bool(s), nil }
