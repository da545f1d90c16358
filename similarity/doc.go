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


// Package similarity finds stored records that probably describe the same
// risk as a given one.
//
// Two entry points are provided. FindSimilarForExisting ranks the corpus
// against a stored record, computing and caching its vector when missing.
// FindSimilarForNew ranks the corpus against unsaved input: an exact title
// match wins outright, otherwise candidates are scored by cosine similarity
// and scores in the borderline band are confirmed by a semantic re-check.
//
// Both entry points treat every failure as "nothing similar" so a lookup
// never breaks the request that asked for it.
//
// Matches found through vector scoring always report MatchedFields as
// ["title"]; the vector carries no per-field information.
package similarity
