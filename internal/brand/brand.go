// Package brand holds the product name and the default filesystem layout.
// Values come from the embedded brand.json, which packaging reads too.
package brand

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
)

//go:embed brand.json
var brandJSON []byte

// Identity is the decoded brand.json.
type Identity struct {
	Name           string `json:"name"`
	LowerName      string `json:"lowerName"`
	Description    string `json:"description"`
	EnvPrefix      string `json:"envPrefix"`
	ConfigDir      string `json:"configDir"`
	StateDir       string `json:"stateDir"`
	RunDir         string `json:"runDir"`
	SocketName     string `json:"socketName"`
	BinaryName     string `json:"binaryName"`
	ConfigFileName string `json:"configFileName"`
	EnvFileName    string `json:"envFileName"`
}

var id Identity

var (
	Name             string
	LowerName        string
	Description      string
	ConfigEnvPrefix  string
	DefaultConfigDir string
	DefaultStateDir  string
	DefaultRunDir    string
	SocketName       string
	BinaryName       string
	ConfigFileName   string
	EnvFileName      string

	// Set with -ldflags at release time.
	Version   = "dev"
	GitCommit = "unknown"
)

func init() {
	if err := json.Unmarshal(brandJSON, &id); err != nil {
		panic("brand: bad brand.json: " + err.Error())
	}
	Name, LowerName, Description = id.Name, id.LowerName, id.Description
	ConfigEnvPrefix = id.EnvPrefix
	DefaultConfigDir, DefaultStateDir, DefaultRunDir = id.ConfigDir, id.StateDir, id.RunDir
	SocketName, BinaryName = id.SocketName, id.BinaryName
	ConfigFileName, EnvFileName = id.ConfigFileName, id.EnvFileName
}

// Get returns the embedded identity.
func Get() Identity { return id }

// dir resolves one of the layout directories. An explicit
// <PREFIX>_<KIND>_DIR wins, then <PREFIX>_PREFIX/<sub>, then def.
func dir(kind, sub, def string) string {
	if v := os.Getenv(ConfigEnvPrefix + "_" + kind + "_DIR"); v != "" {
		return v
	}
	if root := os.Getenv(ConfigEnvPrefix + "_PREFIX"); root != "" {
		return filepath.Join(root, sub)
	}
	return def
}

// GetConfigDir is where turnstile.hcl and turnstile.env live.
func GetConfigDir() string { return dir("CONFIG", "config", DefaultConfigDir) }

// GetStateDir holds the SQLite database and the clock anchor.
func GetStateDir() string { return dir("STATE", "state", DefaultStateDir) }

// GetRunDir holds the control socket.
func GetRunDir() string { return dir("RUN", "run", DefaultRunDir) }

// DefaultConfigPath returns the config file the daemon and CLI read when
// -c is not given.
func DefaultConfigPath() string {
	return filepath.Join(GetConfigDir(), ConfigFileName)
}

// GetSocketPath returns the default control socket, /run/turnstile-ctl.sock
// unless the environment moves it.
func GetSocketPath() string {
	return filepath.Join(GetRunDir(), LowerName+"-"+SocketName)
}
