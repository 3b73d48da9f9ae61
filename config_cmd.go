package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# danmu-tts server configuration

server:
  host: "0.0.0.0"
  port: 8080
  cors_origins: ["*"]
  read_timeout: "15s"
  write_timeout: "60s"
  shutdown_timeout: "10s"

tts:
  # Backend used when a request names neither a backend nor a quality tier
  primary_backend: "edge"
  fallback_backends: ["piper", "xtts"]
  # Priority orders per quality tier
  quality_high: ["xtts", "edge", "piper"]
  quality_low: ["edge", "piper", "xtts"]
  max_text_length: 1000
  default_format: "mp3"
  default_sample_rate: 24000
  chunk_size: 4096

cache:
  enabled: true
  # memory, disk, or redis
  type: "memory"
  max_size: "500MB"
  ttl: "1h"
  sweep_interval: "5m"
  # dir: "/var/cache/danmu-tts"
  # Zstd level for the disk tier (1-4)
  compression: 3
  # redis_addr: "127.0.0.1:6379"
  # redis_db: 0

backends:
  edge:
    enabled: true
    voice: "zh-CN-XiaoxiaoNeural"
    rate: "+0%"
    volume: "+0%"
    pitch: "+0Hz"
    timeout: "30s"

  piper:
    enabled: false
    # binary: "/usr/local/bin/piper"
    # model_dir: "/usr/share/piper"
    # voice: "zh_CN-huayan-medium"
    timeout: "30s"

  xtts:
    enabled: false
    url: "http://127.0.0.1:8020"
    # speaker: "default"
    language: "zh-cn"
    timeout: "2m"

  openai:
    enabled: false
    # api_key is read from OPENAI_API_KEY
    model: "tts-1"
    voice: "alloy"
    speed: 1.0
    timeout: "30s"

log:
  level: "info"
  # text or json
  format: "text"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Edit the danmu-tts config file",
	Long:    "\nEdit the danmu-tts config file. We'll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.",
	Example: "danmu-tts config\ndanmu-tts config --config path/to/config.yml",
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("danmu-tts", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
