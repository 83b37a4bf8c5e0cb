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

import (
	"path"
	"strings"
)

// NormalizePath cleans a path and strips leading/trailing slashes.
// The image namespace always uses forward slashes regardless of host OS.
func NormalizePath(p string) string {
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// AbsPath returns the absolute image path ("/a/b") for p.
func AbsPath(p string) string {
	return "/" + NormalizePath(p)
}

// SplitPath splits a path into its components
func SplitPath(p string) []string {
	p = NormalizePath(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// JoinPath joins a parent directory and an entry name into an absolute image path.
func JoinPath(parent, name string) string {
	return AbsPath(path.Join(parent, name))
}

// SafeName makes an on-image entry name usable as a single host path component.
// Names come from untrusted images and may contain separators or dot segments.
func SafeName(name string) string {
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\x00", "_")
	switch name {
	case "", ".", "..":
		return "_" + name
	}
	return name
}
