// Package config loads runtime settings from the environment, an optional .env file and
// an optional YAML file.
package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/ByLCY/carousel/logger"
)

// Config 是应用的全部配置。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Assets    AssetsConfig    `yaml:"assets"`
	Generator GeneratorConfig `yaml:"generator"`
	Editor    EditorConfig    `yaml:"editor"`
	Export    ExportConfig    `yaml:"export"`
	Logger    logger.Config   `yaml:"logger"`
}

// ServerConfig 是 HTTP 服务配置。
type ServerConfig struct {
	Addr            string        `env:"SERVER_ADDR" env-default:":8080" yaml:"addr"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" env-default:"30s" yaml:"readTimeout"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" env-default:"120s" yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s" yaml:"shutdownTimeout"`
}

// StorageConfig 选择文档持久化方式。
type StorageConfig struct {
	Driver string `env:"STORAGE_DRIVER" env-default:"file" yaml:"driver"` // file | sqlite
	Path   string `env:"STORAGE_PATH" env-default:"data/documents" yaml:"path"`
}

// AssetsConfig 配置图片读取与素材存储。
type AssetsConfig struct {
	BaseDir       string        `env:"ASSET_BASE_DIR" env-default:"." yaml:"baseDir"`
	BlobDir       string        `env:"ASSET_BLOB_DIR" env-default:"data/blobs" yaml:"blobDir"`
	PublicBaseURL string        `env:"ASSET_PUBLIC_BASE_URL" yaml:"publicBaseURL"`
	FetchTimeout  time.Duration `env:"ASSET_FETCH_TIMEOUT" env-default:"30s" yaml:"fetchTimeout"`
}

// GeneratorConfig 配置外部图片生成服务，URL 为空时不启用。
type GeneratorConfig struct {
	URL     string        `env:"GENERATOR_URL" yaml:"url"`
	Timeout time.Duration `env:"GENERATOR_TIMEOUT" env-default:"120s" yaml:"timeout"`
}

// EditorConfig 配置编辑器。
type EditorConfig struct {
	HistoryLimit int `env:"EDITOR_HISTORY_LIMIT" env-default:"50" yaml:"historyLimit"`
}

// ExportConfig 配置导出。
type ExportConfig struct {
	Concurrency int `env:"EXPORT_CONCURRENCY" env-default:"4" yaml:"concurrency"`
	JPEGQuality int `env:"EXPORT_JPEG_QUALITY" env-default:"92" yaml:"jpegQuality"`
}

// Load 读取配置。path 非空时读取该 YAML 文件（环境变量仍可覆盖），否则只读环境变量。
// 当前目录下的 .env 文件会先被加载，文件不存在时忽略。
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("读取环境变量配置失败: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "file", "sqlite":
	default:
		return fmt.Errorf("未知的存储驱动：%s", c.Storage.Driver)
	}
	if c.Export.JPEGQuality < 1 || c.Export.JPEGQuality > 100 {
		return fmt.Errorf("JPEG 质量必须在 1-100 之间：%d", c.Export.JPEGQuality)
	}
	if c.Export.Concurrency < 1 {
		c.Export.Concurrency = 1
	}
	return nil
}
