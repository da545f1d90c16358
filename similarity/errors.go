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


package similarity

import "errors"

var (
	// ErrRepositoryRequired is returned when no record repository is given.
	ErrRepositoryRequired = errors.New("record repository is required")

	// ErrEmbeddingClientRequired is returned when no embedding client is given.
	ErrEmbeddingClientRequired = errors.New("embedding client is required")

	// ErrInvalidBand is returned by WithBorderlineBand when low > high.
	ErrInvalidBand = errors.New("borderline band lower bound exceeds upper bound")

	// ErrInvalidScore is returned for thresholds outside 0..100.
	ErrInvalidScore = errors.New("score must be between 0 and 100")
)
