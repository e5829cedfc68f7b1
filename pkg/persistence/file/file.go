// Package file provides JSON file based persistence, one document per
// aggregate. It is the reference backend used by tests and embedded
// deployments.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/orchon/orchon/pkg/persistence"
)

// Persistence implements persistence.Persistence on a directory tree:
//
//	<root>/definitions/<id>/v<version>.json
//	<root>/instances/<id>.json
//	<root>/steps/<instance_id>.json
//	<root>/audit/<instance_id>.json
type Persistence struct {
	root string
	mu   sync.RWMutex

	definitions *DefinitionRepository
	instances   *InstanceRepository
	steps       *StepInstanceRepository
	audit       *AuditLogRepository
}

// NewPersistence creates the directory layout under root.
func NewPersistence(root string) (*Persistence, error) {
	root = strings.TrimPrefix(root, "file://")

	for _, dir := range []string{"definitions", "instances", "steps", "audit"} {
		err := os.MkdirAll(filepath.Join(root, dir), 0o755)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	p := &Persistence{root: root}
	p.definitions = &DefinitionRepository{base: p}
	p.instances = &InstanceRepository{base: p}
	p.steps = &StepInstanceRepository{base: p}
	p.audit = &AuditLogRepository{base: p}

	return p, nil
}

func (p *Persistence) Definitions() persistence.DefinitionRepository     { return p.definitions }
func (p *Persistence) Instances() persistence.InstanceRepository         { return p.instances }
func (p *Persistence) StepInstances() persistence.StepInstanceRepository { return p.steps }
func (p *Persistence) AuditLog() persistence.AuditLogRepository          { return p.audit }

// HealthCheck verifies the root directory is usable.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(p.root)
	if err != nil {
		return fmt.Errorf("persistence root unavailable: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("persistence root %s is not a directory", p.root)
	}

	return nil
}

// Close is a no-op for the file backend.
func (p *Persistence) Close(ctx context.Context) error {
	return nil
}

// writeDocument atomically replaces the document at path.
func (p *Persistence) writeDocument(path string, document any) error {
	raw, err := json.MarshalIndent(document, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	tmp := path + ".tmp"

	err = os.WriteFile(tmp, raw, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}

	err = os.Rename(tmp, path)
	if err != nil {
		return fmt.Errorf("failed to replace document: %w", err)
	}

	return nil
}

// readDocument decodes the document at path into out. Returns os.ErrNotExist
// wrapped errors untouched so callers can map them to domain sentinels.
func (p *Persistence) readDocument(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	err = json.Unmarshal(raw, out)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return nil
}
