// Package config assembles runtime settings from the environment and
// an optional YAML file. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/ecsched/internal/store"
)

// Environment variable names. Every setting carries the ECSS_ prefix.
const (
	EnvLogLevel           = "ECSS_LOG_LEVEL"
	EnvLogFolder          = "ECSS_LOG_FOLDER"
	EnvHTTPAddr           = "ECSS_HTTP_ADDR"
	EnvSQLiteFile         = "ECSS_SQLITE_FILE"
	EnvFileDir            = "ECSS_FILE_DIR"
	EnvS3Bucket           = "ECSS_S3_BUCKET"
	EnvS3Prefix           = "ECSS_S3_PREFIX"
	EnvDynamoDBTable      = "ECSS_DYNAMODB_TABLE"
	EnvElasticsearchIndex = "ECSS_ELASTICSEARCH_INDEX"
	EnvElasticsearchHosts = "ECSS_ELASTICSEARCH_HOSTS"
	EnvConfigFile         = "ECSS_CONFIG_FILE"
	EnvECSCluster         = "ECSS_ECS_CLUSTER"
	EnvName               = "ECSS_NAME"
	EnvOpsQueue           = "ECSS_OPS_QUEUE"
)

const (
	defaultHTTPAddr = ":5000"
	defaultName     = "ecs-scheduler"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFolder string `yaml:"log_folder"`
	HTTPAddr  string `yaml:"http_addr"`

	// Cluster identity: the runner cluster jobs launch into and the
	// startedBy label stamped on each task.
	ECSCluster string `yaml:"ecs_cluster"`
	Name       string `yaml:"name"`

	// OpsQueue names the SQS queue carrying job operations between a
	// split API and scheduler. Empty means single-process direct bus.
	OpsQueue string `yaml:"ops_queue"`

	Store StoreConfig `yaml:"store"`
}

// StoreConfig mirrors the persistence backend options.
type StoreConfig struct {
	SQLiteFile    string              `yaml:"sqlite_file"`
	FileDir       string              `yaml:"file_dir"`
	S3Bucket      string              `yaml:"s3_bucket"`
	S3Prefix      string              `yaml:"s3_prefix"`
	DynamoDBTable string              `yaml:"dynamodb_table"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
}

// ElasticsearchConfig configures the search-index backend.
type ElasticsearchConfig struct {
	Index string   `yaml:"index"`
	Hosts []string `yaml:"hosts"`
}

// Load reads the YAML file named by ECSS_CONFIG_FILE (when set) and
// overlays the environment on top. The cluster name is mandatory.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr: defaultHTTPAddr,
		Name:     defaultName,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if cfg.HTTPAddr == "" {
			cfg.HTTPAddr = defaultHTTPAddr
		}
		if cfg.Name == "" {
			cfg.Name = defaultName
		}
	}

	overlay(&cfg.LogLevel, EnvLogLevel)
	overlay(&cfg.LogFolder, EnvLogFolder)
	overlay(&cfg.HTTPAddr, EnvHTTPAddr)
	overlay(&cfg.ECSCluster, EnvECSCluster)
	overlay(&cfg.Name, EnvName)
	overlay(&cfg.OpsQueue, EnvOpsQueue)
	overlay(&cfg.Store.SQLiteFile, EnvSQLiteFile)
	overlay(&cfg.Store.FileDir, EnvFileDir)
	overlay(&cfg.Store.S3Bucket, EnvS3Bucket)
	overlay(&cfg.Store.S3Prefix, EnvS3Prefix)
	overlay(&cfg.Store.DynamoDBTable, EnvDynamoDBTable)
	overlay(&cfg.Store.Elasticsearch.Index, EnvElasticsearchIndex)
	if hosts := os.Getenv(EnvElasticsearchHosts); hosts != "" {
		cfg.Store.Elasticsearch.Hosts = splitCSV(hosts)
	}

	if cfg.ECSCluster == "" {
		return nil, fmt.Errorf("%s is required", EnvECSCluster)
	}
	return cfg, nil
}

// StoreOptions translates the config into backend options.
func (c *Config) StoreOptions() store.Options {
	return store.Options{
		SQLiteFile:         c.Store.SQLiteFile,
		FileDir:            c.Store.FileDir,
		S3Bucket:           c.Store.S3Bucket,
		S3Prefix:           c.Store.S3Prefix,
		DynamoDBTable:      c.Store.DynamoDBTable,
		ElasticsearchIndex: c.Store.Elasticsearch.Index,
		ElasticsearchHosts: c.Store.Elasticsearch.Hosts,
	}
}

func overlay(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
