package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rcowham/svn2gitfi/errkind"
	"github.com/stretchr/testify/assert"
)

const defaultConfig = `
identity_map:		/tmp/authors.txt
identity_domain:	example.com
commit_interval:	500
max_processes:		10
fast_import_cmd:	git fast-import --quiet
close_timeout:		5s
add_metadata:		true
`

func checkValue(t *testing.T, fieldname string, val string, expected string) {
	if val != expected {
		t.Fatalf("Error parsing %s, expected '%v' got '%v'", fieldname, expected, val)
	}
}

func checkValueInt(t *testing.T, fieldname string, val int, expected int) {
	if val != expected {
		t.Fatalf("Error parsing %s, expected %v got %v", fieldname, expected, val)
	}
}

func TestValidConfig(t *testing.T) {
	cfg := loadOrFail(t, defaultConfig)
	checkValue(t, "IdentityMap", cfg.IdentityMap, "/tmp/authors.txt")
	checkValue(t, "IdentityDomain", cfg.IdentityDomain, "example.com")
	checkValueInt(t, "CommitInterval", cfg.CommitInterval, 500)
	checkValueInt(t, "MaxProcesses", cfg.MaxProcesses, 10)
	assert.Equal(t, 5*time.Second, cfg.CloseTimeout)
	assert.True(t, cfg.AddMetadata)
	args, err := cfg.FastImportArgs()
	assert.NoError(t, err)
	assert.Equal(t, []string{"git", "fast-import", "--quiet"}, args)
}

func TestEmptyConfig(t *testing.T) {
	cfg := loadOrFail(t, "")
	checkValue(t, "IdentityMap", cfg.IdentityMap, "")
	checkValue(t, "IdentityDomain", cfg.IdentityDomain, DefaultIdentityDomain)
	checkValueInt(t, "CommitInterval", cfg.CommitInterval, DefaultCommitInterval)
	checkValueInt(t, "MaxProcesses", cfg.MaxProcesses, DefaultMaxProcesses)
	checkValue(t, "FastImportCmd", cfg.FastImportCmd, DefaultFastImportCmd)
	assert.Equal(t, 30*time.Second, cfg.CloseTimeout)
	assert.False(t, cfg.AddMetadata)
}

func TestLogEncoding(t *testing.T) {
	cfg := loadOrFail(t, `log_encoding: ISO-8859-1`)
	checkValue(t, "LogEncoding", cfg.LogEncoding, "ISO-8859-1")
	ensureFail(t, `log_encoding: not-a-charset`, "encoding")
}

func TestWrongValues(t *testing.T) {
	ensureFail(t, `commit_interval: 0`, "commit_interval")
	ensureFail(t, `max_processes: -1`, "max_processes")
	ensureFail(t, `fast_import_cmd: ""`, "empty command")
	ensureFail(t, `fast_import_cmd: "git 'fast-import"`, "unbalanced quote")
	ensureFail(t, `close_timeout: 'not duration'`, "duration")
}

func TestIdentityMap(t *testing.T) {
	input := `# comment line
jdoe John Doe <john@example.com>
badline

asmith	Alice Smith <alice@example.com>
`
	ids, err := ParseIdentityMap(strings.NewReader(input))
	assert.NoError(t, err)
	assert.Equal(t, 2, len(ids))
	assert.Equal(t, "John Doe <john@example.com>", ids["jdoe"])
	assert.Equal(t, "Alice Smith <alice@example.com>", ids["asmith"])
}

func TestIdentityMapFile(t *testing.T) {
	ids, err := LoadIdentityMapFile("")
	assert.NoError(t, err)
	assert.Empty(t, ids)

	fname := filepath.Join(t.TempDir(), "authors.txt")
	assert.NoError(t, os.WriteFile(fname, []byte("bob Bob <bob@example.com>\n"), 0644))
	ids, err = LoadIdentityMapFile(fname)
	assert.NoError(t, err)
	assert.Equal(t, "Bob <bob@example.com>", ids["bob"])

	_, err = LoadIdentityMapFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.True(t, errkind.Is(err, errkind.ErrConfig))
}

func ensureFail(t *testing.T, cfgString string, desc string) {
	_, err := Unmarshal([]byte(cfgString))
	if err == nil {
		t.Fatalf("Expected config err not found: %s", desc)
	}
	assert.True(t, errkind.Is(err, errkind.ErrConfig))
	t.Logf("Config err: %v", err.Error())
}

func loadOrFail(t *testing.T, cfgString string) *Config {
	cfg, err := Unmarshal([]byte(cfgString))
	if err != nil {
		t.Fatalf("Failed to read config: %v", err.Error())
	}
	return cfg
}
