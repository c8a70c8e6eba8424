package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Identity is the device registration saved between CLI invocations.
type Identity struct {
	Server        string `json:"server"`
	AgentID       string `json:"agentId"`
	DeviceID      string `json:"deviceId"`
	WalletAddress string `json:"walletAddress"`
	Token         string `json:"token"`
	RefreshToken  string `json:"refreshToken,omitempty"`
}

// DefaultIdentityPath returns ~/.atlas/agent.json.
func DefaultIdentityPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".atlas", "agent.json"), nil
}

// SaveIdentity writes id to path, creating the directory. The file holds a
// bearer token and is written owner-only.
func SaveIdentity(path string, id Identity) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create identity directory: %w", err)
	}
	data, err := json.MarshalIndent(id, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}

// LoadIdentity reads a saved identity.
func LoadIdentity(path string) (Identity, error) {
	var id Identity
	data, err := os.ReadFile(path)
	if err != nil {
		return id, fmt.Errorf("read identity (run 'atlas-agent register' first): %w", err)
	}
	if err := json.Unmarshal(data, &id); err != nil {
		return id, fmt.Errorf("parse identity %s: %w", path, err)
	}
	if id.Token == "" {
		return id, fmt.Errorf("identity %s has no token", path)
	}
	return id, nil
}
