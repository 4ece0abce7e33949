package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/mitchellh/go-homedir"
	"github.com/rcowham/svn2gitfi/errkind"
	"github.com/warpfork/go-errcat"
	"golang.org/x/text/encoding/ianaindex"
	yaml "gopkg.in/yaml.v2"
)

const DefaultCommitInterval = 10000
const DefaultMaxProcesses = 100
const DefaultIdentityDomain = "localhost"
const DefaultFastImportCmd = "git fast-import"

// Config for svn2gitfi
type Config struct {
	IdentityMap    string        `yaml:"identity_map"`
	IdentityDomain string        `yaml:"identity_domain"`
	CommitInterval int           `yaml:"commit_interval"`
	MaxProcesses   int           `yaml:"max_processes"`
	FastImportCmd  string        `yaml:"fast_import_cmd"`
	CloseTimeout   time.Duration `yaml:"close_timeout"`
	AddMetadata    bool          `yaml:"add_metadata"`
	LogEncoding    string        `yaml:"log_encoding"`
}

// Unmarshal the config
func Unmarshal(config []byte) (*Config, error) {
	// Default values specified here
	cfg := &Config{
		IdentityDomain: DefaultIdentityDomain,
		CommitInterval: DefaultCommitInterval,
		MaxProcesses:   DefaultMaxProcesses,
		FastImportCmd:  DefaultFastImportCmd,
		CloseTimeout:   30 * time.Second,
	}
	err := yaml.Unmarshal(config, cfg)
	if err != nil {
		return nil, errcat.Errorf(errkind.ErrConfig, "invalid configuration: %v. make sure to use 'single quotes' around strings with special characters", err.Error())
	}
	err = cfg.validate()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile - loads config file
func LoadConfigFile(filename string) (*Config, error) {
	filename, err := homedir.Expand(filename)
	if err != nil {
		return nil, errcat.Errorf(errkind.ErrConfig, "failed to expand %v: %v", filename, err.Error())
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, errcat.Errorf(errkind.ErrConfig, "failed to load %v: %v", filename, err.Error())
	}
	cfg, err := LoadConfigString(content)
	if err != nil {
		return nil, errcat.Errorf(errkind.ErrConfig, "failed to load %v: %v", filename, err.Error())
	}
	return cfg, nil
}

// LoadConfigString - loads a string
func LoadConfigString(content []byte) (*Config, error) {
	cfg, err := Unmarshal([]byte(content))
	return cfg, err
}

func (c *Config) validate() error {
	if c.CommitInterval <= 0 {
		return errcat.Errorf(errkind.ErrConfig, "commit_interval must be positive, got %d", c.CommitInterval)
	}
	if c.MaxProcesses <= 0 {
		return errcat.Errorf(errkind.ErrConfig, "max_processes must be positive, got %d", c.MaxProcesses)
	}
	if _, err := c.FastImportArgs(); err != nil {
		return err
	}
	if c.LogEncoding != "" {
		if _, err := ianaindex.IANA.Encoding(c.LogEncoding); err != nil {
			return errcat.Errorf(errkind.ErrConfig, "unknown log_encoding '%s'", c.LogEncoding)
		}
	}
	return nil
}

// FastImportArgs splits the fast-import command line into argv form
func (c *Config) FastImportArgs() ([]string, error) {
	args, err := shlex.Split(c.FastImportCmd)
	if err != nil {
		return nil, errcat.Errorf(errkind.ErrConfig, "failed to parse fast_import_cmd '%s': %v", c.FastImportCmd, err)
	}
	if len(args) == 0 {
		return nil, errcat.Errorf(errkind.ErrConfig, "fast_import_cmd is empty")
	}
	return args, nil
}

// IdentityMap maps svn user names to "Full Name <email>" identities
type IdentityMap map[string]string

// LoadIdentityMapFile reads an identity map, one "svnuser Full Name <email>" per line.
// An empty filename gives an empty map.
func LoadIdentityMapFile(filename string) (IdentityMap, error) {
	if filename == "" {
		return IdentityMap{}, nil
	}
	filename, err := homedir.Expand(filename)
	if err != nil {
		return nil, errcat.Errorf(errkind.ErrConfig, "failed to expand %v: %v", filename, err.Error())
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, errcat.Errorf(errkind.ErrConfig, "failed to load identity map %v: %v", filename, err.Error())
	}
	defer f.Close()
	return ParseIdentityMap(f)
}

// ParseIdentityMap parses identity map lines. Lines without a space are skipped.
func ParseIdentityMap(r io.Reader) (IdentityMap, error) {
	result := IdentityMap{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		space := strings.IndexAny(line, " \t")
		if space == -1 {
			continue // invalid line
		}
		realname := strings.TrimSpace(line[space:])
		result[line[:space]] = realname
	}
	if err := scanner.Err(); err != nil {
		return nil, errcat.Errorf(errkind.ErrConfig, "failed to read identity map: %v", err)
	}
	return result, nil
}

// String for logging
func (c *Config) String() string {
	return fmt.Sprintf("identity_map:%q identity_domain:%q commit_interval:%d max_processes:%d fast_import_cmd:%q close_timeout:%v add_metadata:%v log_encoding:%q",
		c.IdentityMap, c.IdentityDomain, c.CommitInterval, c.MaxProcesses, c.FastImportCmd, c.CloseTimeout, c.AddMetadata, c.LogEncoding)
}
