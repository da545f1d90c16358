// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import (
	"fmt"
	"strings"
	"time"
)

// ValidateRecord validates a Record before it is stored.
//
// Validation rules:
//   - Title must not be blank
//   - Kind must be Risk or Control
//   - InsertedAt, when set, must not be in the future
//
// NOT validated:
//   - Vector (nil until the backfill or an on-demand lookup fills it)
//   - ID (0 is valid, the store assigns one)
func ValidateRecord(record *Record) error {
	if record == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}

	if strings.TrimSpace(record.Title) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrEmptyTitle)
	}

	if err := ValidateRecordKind(record.Kind); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}

	if !record.InsertedAt.IsZero() && !IsValidTimestamp(record.InsertedAt) {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, ErrInvalidTimestamp)
	}

	return nil
}

// ValidateRecordKind validates that a RecordKind has a valid value.
func ValidateRecordKind(kind RecordKind) error {
	if kind != RecordKindRisk && kind != RecordKindControl {
		return fmt.Errorf("%w: value %d", ErrInvalidRecordKind, kind)
	}
	return nil
}

// IsValidTimestamp checks if a timestamp is valid (not in the future).
func IsValidTimestamp(ts time.Time) bool {
	return !ts.After(time.Now())
}
