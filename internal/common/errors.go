// Copyright 2024 LatentFS Authors
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

package common

import "errors"

// Device-level errors are fatal for the requested block only.
var (
	ErrOutOfRange     = errors.New("block index out of range")
	ErrTruncatedImage = errors.New("truncated image")
	ErrImageOpen      = errors.New("cannot open image")
)

// Decoder-level errors abort a single metadata region.
var (
	ErrCorruptMetadataPair = errors.New("corrupt metadata pair")
	ErrMalformedEntry      = errors.New("malformed entry")
)

// Walker and reader errors degrade to partial results.
var (
	ErrCyclicDirectoryGraph = errors.New("cyclic directory graph")
	ErrBrokenSubdirectory   = errors.New("broken subdirectory")
	ErrBrokenFileChain      = errors.New("broken file chain")
	ErrSharedDirectory      = errors.New("directory pair referenced twice")
)

var ErrInvalidConfig = errors.New("invalid configuration")
