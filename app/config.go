package app

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/grafana/dskit/flagext"
	"github.com/grafana/dskit/server"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"

	"github.com/zachfi/zkit/pkg/tracing"
	"github.com/zachfi/zkit/pkg/util"

	"github.com/zachfi/shouter/modules/shouter"
)

type Config struct {
	Target  string         `yaml:"target"`
	Tracing tracing.Config `yaml:"tracing,omitempty"`
	Server  server.Config  `yaml:"server,omitempty"`
	Catalog CatalogConfig  `yaml:"catalog,omitempty"`
	Shouter shouter.Config `yaml:"shouter,omitempty"`
}

// CatalogConfig locates the track catalog used by the idle policies.
type CatalogConfig struct {
	Path string `yaml:"path,omitempty"`
}

func (c *CatalogConfig) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.Path, util.PrefixConfig(prefix, "path"), "", "SQLite file of every track seen. Empty keeps the catalog in memory.")
}

// LoadConfig receives a file path for a configuration to load. With
// expandEnv, ${VAR} references are replaced from the environment first.
func LoadConfig(file string, expandEnv bool, config *Config) error {
	filename, _ := filepath.Abs(file)

	err := loadYamlFile(filename, expandEnv, config)
	if err != nil {
		return errors.Wrap(err, "failed to load yaml file")
	}

	return nil
}

// loadYamlFile unmarshals a YAML file into the received interface{} or returns an error.
func loadYamlFile(filename string, expandEnv bool, d interface{}) error {
	yamlFile, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	if expandEnv {
		yamlFile = []byte(os.ExpandEnv(string(yamlFile)))
	}

	return yaml.UnmarshalStrict(yamlFile, d)
}

func (c *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&c.Target, "target", All, "Module to run: all, shouter or catalog.")

	flagext.DefaultValues(&c.Server)
	f.IntVar(&c.Server.HTTPListenPort, "server.http-listen-port", 3030, "HTTP server listen port.")
	f.IntVar(&c.Server.GRPCListenPort, "server.grpc-listen-port", 9090, "gRPC server listen port.")

	c.Tracing.RegisterFlagsAndApplyDefaults("tracing", f)
	c.Catalog.RegisterFlagsAndApplyDefaults("catalog", f)
	c.Shouter.RegisterFlagsAndApplyDefaults("shouter", f)
}
