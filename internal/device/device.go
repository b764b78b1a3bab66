// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

// Package device derives the identity this agent reports: a persisted
// per-device UUID and a human-readable name taken from os-release.
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	ini "gopkg.in/ini.v1"
)

const (
	uuidFilename = "device-uuid"
	osRelease    = "/etc/os-release"
)

// Info identifies the device in report events and request headers.
type Info struct {
	UUID string
	Name string
}

// FromHost loads or creates the device identity. The UUID is persisted
// under storageDir so it stays stable across invocations and updates.
func FromHost(storageDir string) (Info, error) {
	id, err := loadOrCreateUUID(filepath.Join(storageDir, uuidFilename))
	if err != nil {
		return Info{}, err
	}
	return Info{UUID: id, Name: hostName()}, nil
}

func loadOrCreateUUID(path string) (string, error) {
	if b, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(b))
		if _, err := uuid.Parse(id); err == nil {
			return id, nil
		}
		log.Warn().Str("path", path).Msg("Stored device UUID is invalid; generating a new one")
	}
	id := uuid.New().String()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to persist device UUID: %w", err)
	}
	log.Debug().Str("uuid", id).Msg("Generated device UUID")
	return id, nil
}

// hostName prefers the os-release PRETTY_NAME, falling back to the kernel
// hostname.
func hostName() string {
	if cfg, err := ini.Load(osRelease); err == nil {
		if name := cfg.Section("").Key("PRETTY_NAME").String(); name != "" {
			return name
		}
	}
	if name, err := os.Hostname(); err == nil {
		return name
	}
	return "unknown"
}
