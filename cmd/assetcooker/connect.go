package main

import (
	"fmt"
	"path/filepath"

	"github.com/assetcooker/assetcooker/internal/config"
	"github.com/assetcooker/assetcooker/internal/remotecontrol"
)

// connectControl loads just enough of the target instance's configuration
// to dial its control pipe: the identity is derived from the config
// file's absolute path, and the pipe's record file lives under its cache
// directory (spec §4.11/§6).
func connectControl() (*remotecontrol.ControlClient, error) {
	absConfigPath, err := filepath.Abs(rootConfiguration.configPath)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	cfg, err := config.Load(absConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	identity := remotecontrol.Identity(absConfigPath)
	client, err := remotecontrol.DialControl(identity, cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("connecting to running instance (is one running for %s?): %w", absConfigPath, err)
	}
	return client, nil
}

func signalInstance(action remotecontrol.Action) error {
	absConfigPath, err := filepath.Abs(rootConfiguration.configPath)
	if err != nil {
		return fmt.Errorf("resolving config path: %w", err)
	}
	return remotecontrol.Signal(absConfigPath, action)
}
