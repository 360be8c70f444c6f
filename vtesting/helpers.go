/*
Velociraptor - Dig Deeper
Copyright (C) 2019-2025 Rapid7 Inc.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
// Helpers shared by the package tests.
package vtesting

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func ReadFile(t *testing.T, filename string) []byte {
	t.Helper()

	data, err := os.ReadFile(filename)
	if err != nil {
		t.Fatalf("ReadFile %v: %v", filename, err)
	}
	return data
}

// Writes data creating the parent directories and returns filename.
func WriteFile(t *testing.T, filename string, data []byte) string {
	t.Helper()

	err := os.MkdirAll(filepath.Dir(filename), 0700)
	if err == nil {
		err = os.WriteFile(filename, data, 0600)
	}
	if err != nil {
		t.Fatalf("WriteFile %v: %v", filename, err)
	}
	return filename
}

// Polls cb until it returns true. Background tasks (batches,
// resubmissions) finish on their own schedule.
func WaitUntil(deadline time.Duration, t *testing.T, cb func() bool) {
	t.Helper()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	timeout := time.After(deadline)
	for !cb() {
		select {
		case <-timeout:
			t.Fatalf("WaitUntil: condition not met after %v", deadline)
		case <-ticker.C:
		}
	}
}
