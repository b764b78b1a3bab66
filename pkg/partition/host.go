// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package partition

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"

	"github.com/edgeward/otaup/pkg/appdesc"
	"github.com/edgeward/otaup/pkg/image"
)

type (
	// HostProvider is a file-backed Provider/Store. Each slot is a plain
	// image file next to a TOML partition table; the boot pointer and the
	// last-invalid mark live in the table's bootstate section. Real devices
	// bring their own Provider; this one serves the CLI, development hosts,
	// and tests.
	HostProvider struct {
		dir       string
		tablePath string
		table     tableFile
	}

	tableFile struct {
		BootState  bootState    `toml:"bootstate"`
		Partitions []tableEntry `toml:"partition"`
	}

	bootState struct {
		Configured  string `toml:"configured"`
		Running     string `toml:"running"`
		LastInvalid string `toml:"last_invalid"`
	}

	tableEntry struct {
		Label  string `toml:"label"`
		Offset uint32 `toml:"offset"`
		Size   uint32 `toml:"size"`
		Image  string `toml:"image"`
	}
)

// NewHostProvider loads the partition table from tablePath; image paths in
// the table are resolved relative to its directory.
func NewHostProvider(tablePath string) (*HostProvider, error) {
	b, err := os.ReadFile(tablePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read partition table: %w", err)
	}
	p := &HostProvider{
		dir:       filepath.Dir(tablePath),
		tablePath: tablePath,
	}
	if err := toml.Unmarshal(b, &p.table); err != nil {
		return nil, fmt.Errorf("failed to parse partition table %s: %w", tablePath, err)
	}
	if len(p.table.Partitions) == 0 {
		return nil, fmt.Errorf("partition table %s lists no partitions", tablePath)
	}
	return p, nil
}

func (p *HostProvider) BootPartition() (Ref, error) {
	return p.refByLabel(p.table.BootState.Configured, RoleConfiguredBoot)
}

func (p *HostProvider) RunningPartition() (Ref, error) {
	return p.refByLabel(p.table.BootState.Running, RoleRunning)
}

// NextUpdatePartition picks the first slot that is not the one running.
// With a single-slot table there is nowhere to write and the update layout
// is malformed.
func (p *HostProvider) NextUpdatePartition() (Ref, bool) {
	for _, e := range p.table.Partitions {
		if e.Label != p.table.BootState.Running {
			return Ref{Label: e.Label, Offset: e.Offset, Role: RoleNextUpdate}, true
		}
	}
	return Ref{Role: RoleNone}, false
}

func (p *HostProvider) LastInvalidPartition() (Ref, bool) {
	label := p.table.BootState.LastInvalid
	if label == "" {
		return Ref{Role: RoleNone}, false
	}
	ref, err := p.refByLabel(label, RoleLastInvalid)
	if err != nil {
		return Ref{Role: RoleNone}, false
	}
	return ref, true
}

func (p *HostProvider) Descriptor(ref Ref) (appdesc.Descriptor, error) {
	entry, err := p.entryByLabel(ref.Label)
	if err != nil {
		return appdesc.Descriptor{}, err
	}
	b, err := os.ReadFile(filepath.Join(p.dir, entry.Image))
	if err != nil {
		return appdesc.Descriptor{}, fmt.Errorf("failed to read image of partition %q: %w", ref.Label, err)
	}
	_, d, err := image.ParsePrefix(b)
	if err != nil {
		return appdesc.Descriptor{}, fmt.Errorf("partition %q holds no readable image: %w", ref.Label, err)
	}
	return d, nil
}

func (p *HostProvider) OpenTarget(ref Ref) (io.WriteCloser, error) {
	entry, err := p.entryByLabel(ref.Label)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(p.dir, entry.Image))
	if err != nil {
		return nil, fmt.Errorf("failed to open partition %q for writing: %w", ref.Label, err)
	}
	return f, nil
}

func (p *HostProvider) DiscardTarget(ref Ref) error {
	entry, err := p.entryByLabel(ref.Label)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(p.dir, entry.Image)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to discard image of partition %q: %w", ref.Label, err)
	}
	return nil
}

func (p *HostProvider) SetBootPartition(ref Ref) error {
	if _, err := p.entryByLabel(ref.Label); err != nil {
		return err
	}
	p.table.BootState.Configured = ref.Label
	return p.persistTable()
}

// MarkInvalid records a slot as the last invalid one. On real devices the
// bootloader sets this mark after a failed boot; here it serves tooling and
// test fixtures.
func (p *HostProvider) MarkInvalid(ref Ref) error {
	if _, err := p.entryByLabel(ref.Label); err != nil {
		return err
	}
	p.table.BootState.LastInvalid = ref.Label
	return p.persistTable()
}

func (p *HostProvider) persistTable() error {
	b, err := toml.Marshal(p.table)
	if err != nil {
		return fmt.Errorf("failed to marshal partition table: %w", err)
	}
	if err := os.WriteFile(p.tablePath, b, 0o644); err != nil {
		return fmt.Errorf("failed to persist partition table: %w", err)
	}
	return nil
}

func (p *HostProvider) refByLabel(label string, role Role) (Ref, error) {
	entry, err := p.entryByLabel(label)
	if err != nil {
		return Ref{Role: RoleNone}, err
	}
	return Ref{Label: entry.Label, Offset: entry.Offset, Role: role}, nil
}

func (p *HostProvider) entryByLabel(label string) (*tableEntry, error) {
	for i := range p.table.Partitions {
		if p.table.Partitions[i].Label == label {
			return &p.table.Partitions[i], nil
		}
	}
	return nil, fmt.Errorf("partition %q not found in table", label)
}
