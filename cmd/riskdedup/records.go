package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/poiesic/riskdedup/core"
)

type recordFile struct {
	Records []recordEntry `yaml:"records"`
}

type recordEntry struct {
	Kind          string      `yaml:"kind"`
	Title         string      `yaml:"title"`
	Threat        string      `yaml:"threat"`
	Vulnerability string      `yaml:"vulnerability"`
	Description   string      `yaml:"description"`
	Objective     string      `yaml:"objective"`
	Guidance      string      `yaml:"guidance"`
	Asset         *assetEntry `yaml:"asset"`
}

type assetEntry struct {
	ID   uint64 `yaml:"id"`
	Name string `yaml:"name"`
}

// loadRecords reads a YAML record file. Entries without a kind are risks.
func loadRecords(path string) ([]*core.Record, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read records %s: %w", path, err)
	}

	var file recordFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse records: %w", err)
	}

	records := make([]*core.Record, 0, len(file.Records))
	for i, entry := range file.Records {
		kind := core.RecordKindRisk
		if entry.Kind != "" {
			kind, err = core.ParseRecordKind(entry.Kind)
			if err != nil {
				return nil, fmt.Errorf("record %d: %w", i+1, err)
			}
		}
		record := &core.Record{
			Kind:          kind,
			Title:         entry.Title,
			Threat:        entry.Threat,
			Vulnerability: entry.Vulnerability,
			Description:   entry.Description,
			Objective:     entry.Objective,
			Guidance:      entry.Guidance,
		}
		if entry.Asset != nil {
			record.Device = &core.Category{Id: core.ID(entry.Asset.ID), Name: entry.Asset.Name}
		}
		if err := core.ValidateRecord(record); err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		records = append(records, record)
	}
	return records, nil
}
