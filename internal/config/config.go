// Package config loads and validates the sshgate server configuration: the
// declared host allowlist plus top-level server settings. Grounded on the
// teacher's internal/config.Load (godotenv overlay, env-driven settings) and
// on original_source/src/mcp_ssh/config.py for the on-disk JSON shape.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/fabber/sshgate/internal/sshcore"
)

// REDIS_ADDR, like the teacher's RedisAddr, is not threaded through
// ServerConfig: RedisAddr below resolves it from the environment and
// cmd/sshgate passes the result to internal/worker.
const defaultRedisAddr = "localhost:6379"

// rawHost mirrors one entry of the JSON config's "hosts" list. Field names
// match original_source's host dict keys so the on-disk JSON format is
// unchanged from the Python original.
type rawHost struct {
	Name              string   `json:"name"`
	Hostname          string   `json:"hostname"`
	Username          string   `json:"username"`
	Port              int      `json:"port"`
	IdentityFile      string   `json:"identity_file"`
	Password          string   `json:"password"`
	AutoAcceptHostKey bool     `json:"auto_accept_host_key"`
	CommandTimeout    int      `json:"command_timeout"`
	TransferTimeout   int      `json:"transfer_timeout"`
	AllowedCommands   []string `json:"allowed_commands"`
}

// rawServer mirrors the top-level JSON document.
type rawServer struct {
	Hosts        []rawHost `json:"hosts"`
	LogLevel     string    `json:"log_level"`
	AuditLogFile string    `json:"audit_log_file"`
}

// ServerConfig is the fully validated, in-memory configuration: the host
// allowlist keyed by name (ready to hand to sshcore.NewManager) plus the
// ambient settings the rest of the process needs.
type ServerConfig struct {
	Hosts        map[string]sshcore.HostSpec
	LogLevel     string
	AuditLogFile string
}

// Load reads path, overlays secrets from the environment via godotenv, and
// validates every host the same way sshcore.HostSpec.Validate does — a
// ConfigError here means the core never has to see a malformed host.
//
// Secret overlay: for a host named "db1", SSHGATE_DB1_PASSWORD overrides a
// password left blank in the JSON file, so operators never have to commit
// plaintext passwords next to the allowlist.
func Load(path string) (*ServerConfig, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &sshcore.ConfigError{Message: fmt.Sprintf("config file not found: %s", path)}
	}

	var raw rawServer
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &sshcore.ConfigError{Message: fmt.Sprintf("invalid JSON in config file: %v", err)}
	}

	if raw.LogLevel == "" {
		raw.LogLevel = "INFO"
	}

	hosts := make(map[string]sshcore.HostSpec, len(raw.Hosts))
	for i, rh := range raw.Hosts {
		ctx := fmt.Sprintf("hosts[%d]", i)
		if rh.Name == "" {
			return nil, &sshcore.ConfigError{Message: ctx + ": missing or invalid 'name'"}
		}
		if _, dup := hosts[rh.Name]; dup {
			return nil, &sshcore.ConfigError{Message: fmt.Sprintf("%s: duplicate host name %q", ctx, rh.Name)}
		}
		if rh.Hostname == "" {
			return nil, &sshcore.ConfigError{Message: fmt.Sprintf("%s: missing or invalid 'hostname'", ctx)}
		}
		if rh.Username == "" {
			return nil, &sshcore.ConfigError{Message: fmt.Sprintf("%s: missing or invalid 'username'", ctx)}
		}

		if rh.Port == 0 {
			rh.Port = 22
		}
		if rh.CommandTimeout == 0 {
			rh.CommandTimeout = sshcore.DefaultCommandTimeout
		}
		if rh.TransferTimeout == 0 {
			rh.TransferTimeout = sshcore.DefaultTransferTimeout
		}
		if rh.IdentityFile != "" {
			rh.IdentityFile = expandEnvPath(rh.IdentityFile)
		}

		overlaySecrets(&rh)

		spec := sshcore.HostSpec{
			Name:              rh.Name,
			Hostname:          rh.Hostname,
			Port:              rh.Port,
			Username:          rh.Username,
			IdentityFile:      rh.IdentityFile,
			Password:          rh.Password,
			AutoAcceptHostKey: rh.AutoAcceptHostKey,
			CommandTimeout:    rh.CommandTimeout,
			TransferTimeout:   rh.TransferTimeout,
			AllowedCommands:   rh.AllowedCommands,
		}
		if err := spec.Validate(); err != nil {
			return nil, &sshcore.ConfigError{Message: fmt.Sprintf("%s: %v", ctx, err)}
		}
		hosts[rh.Name] = spec
	}

	return &ServerConfig{
		Hosts:        hosts,
		LogLevel:     raw.LogLevel,
		AuditLogFile: raw.AuditLogFile,
	}, nil
}

// RedisAddr resolves the Asynq worker's Redis address the same way the
// teacher's config.parseRedisAddr does, straight from the environment.
func RedisAddr() string {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		return v
	}
	return defaultRedisAddr
}

// overlaySecrets fills in rh.Password from SSHGATE_<NAME>_PASSWORD when the
// config file left it blank.
func overlaySecrets(rh *rawHost) {
	if rh.Password != "" {
		return
	}
	key := "SSHGATE_" + envSafe(rh.Name) + "_PASSWORD"
	if v := os.Getenv(key); v != "" {
		rh.Password = v
	}
}

func envSafe(name string) string {
	upper := strings.ToUpper(name)
	var b strings.Builder
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func expandEnvPath(path string) string {
	return os.ExpandEnv(path)
}
