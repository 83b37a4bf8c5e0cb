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

package lfs

import "hash/crc32"

// CRCSeed is the initial value of every commit checksum.
const CRCSeed uint32 = 0xffffffff

// UpdateChecksum continues a littlefs CRC-32 over data.
//
// littlefs uses the reflected IEEE polynomial (0xedb88320) without the final
// inversion, so the running value is the complement of the standard library's.
func UpdateChecksum(crc uint32, data []byte) uint32 {
	return ^crc32.Update(^crc, crc32.IEEETable, data)
}

// Checksum computes the littlefs CRC-32 of data from the standard seed.
func Checksum(data []byte) uint32 {
	return UpdateChecksum(CRCSeed, data)
}
