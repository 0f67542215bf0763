/*
Copyright 2014 The Perkeep Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package buildinfo

import "testing"

func TestTestingLinked(t *testing.T) {
	if !TestingLinked() {
		t.Error("TestingLinked = false inside a test binary; want true")
	}
}

func TestSummary(t *testing.T) {
	oldVersion, oldGit := Version, GitInfo
	defer func() { Version, GitInfo = oldVersion, oldGit }()

	cases := []struct {
		version, git, want string
	}{
		{"", "", "unknown"},
		{"0.1", "", "0.1"},
		{"", "abc1234", "abc1234"},
		{"0.1", "abc1234", "0.1, abc1234"},
	}
	for _, c := range cases {
		Version, GitInfo = c.version, c.git
		if got := Summary(); got != c.want {
			t.Errorf("Summary() with Version=%q GitInfo=%q = %q, want %q", c.version, c.git, got, c.want)
		}
	}
}
