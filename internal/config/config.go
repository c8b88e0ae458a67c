package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type DefinitionsConfig struct {
	Microphones []MicrophoneDefinition `mapstructure:"microphones" yaml:"microphones"`
}

// MicrophoneDefinition names a capture device once so profiles can refer to it.
type MicrophoneDefinition struct {
	ID         string `mapstructure:"id" yaml:"id"`
	Name       string `mapstructure:"name" yaml:"name"`
	Device     string `mapstructure:"device" yaml:"device"` // backend device id, empty = default device
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
}

type MicrophoneReference struct {
	Ref      string `mapstructure:"ref" yaml:"ref"`
	Channels *int   `mapstructure:"channels,omitempty" yaml:"channels,omitempty"` // override allowed
}

type GlobalsConfig struct {
	Output GlobalOutputConfig `mapstructure:"output" yaml:"output"`
}

type GlobalOutputConfig struct {
	RecordingsDirectory string `mapstructure:"recordings_directory" yaml:"recordings_directory"`
}

type RootConfig struct {
	ActiveConfig string                    `mapstructure:"active_config" yaml:"active_config"`
	Globals      *GlobalsConfig            `mapstructure:"globals,omitempty" yaml:"globals,omitempty"`
	Audio        *AudioConfig              `mapstructure:"audio,omitempty" yaml:"audio,omitempty"`
	Logging      *LoggingConfig            `mapstructure:"logging,omitempty" yaml:"logging,omitempty"`
	Definitions  *DefinitionsConfig        `mapstructure:"definitions,omitempty" yaml:"definitions,omitempty"`
	Configs      map[string]*ConfigProfile `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Audio      AudioConfig     `mapstructure:"audio" yaml:"audio"`
	Microphone Microphone      `mapstructure:"microphone" yaml:"microphone"`
	Recording  RecordingConfig `mapstructure:"recording" yaml:"recording"`
	Monitor    MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
	Output     OutputConfig    `mapstructure:"output" yaml:"output"`
	Upload     UploadConfig    `mapstructure:"upload" yaml:"upload"`
	Logging    LoggingConfig   `mapstructure:"logging" yaml:"logging"`

	// Profile is the resolved profile name, empty for built-in defaults.
	Profile string `mapstructure:"-" yaml:"profile,omitempty"`
}

type ConfigProfile struct {
	Audio      AudioConfig          `mapstructure:"audio" yaml:"audio"`
	Microphone *MicrophoneReference `mapstructure:"microphone,omitempty" yaml:"microphone,omitempty"`
	Recording  RecordingConfig      `mapstructure:"recording" yaml:"recording"`
	Monitor    MonitorConfig        `mapstructure:"monitor" yaml:"monitor"`
	Output     OutputConfig         `mapstructure:"output" yaml:"output"`
	Upload     UploadConfig         `mapstructure:"upload" yaml:"upload"`
}

type AudioConfig struct {
	Backend    string `mapstructure:"backend" yaml:"backend"` // "malgo", "pipewire", "auto"
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels   int    `mapstructure:"channels" yaml:"channels"`
}

// Microphone is the resolved microphone of a profile.
type Microphone struct {
	Name   string `mapstructure:"name" yaml:"name,omitempty"`
	Device string `mapstructure:"device" yaml:"device,omitempty"`
}

type RecordingConfig struct {
	CountdownMs     int    `mapstructure:"countdown_ms" yaml:"countdown_ms"`
	TimesliceMs     int    `mapstructure:"timeslice_ms" yaml:"timeslice_ms"`
	PreferredFormat string `mapstructure:"preferred_format" yaml:"preferred_format"`
	FallbackFormat  string `mapstructure:"fallback_format" yaml:"fallback_format"`
}

type MonitorConfig struct {
	IntervalMs int     `mapstructure:"interval_ms" yaml:"interval_ms"`
	FFTSize    int     `mapstructure:"fft_size" yaml:"fft_size"`
	Smoothing  float64 `mapstructure:"smoothing" yaml:"smoothing"`
}

type OutputConfig struct {
	Directory string `mapstructure:"directory" yaml:"directory"`
	Format    string `mapstructure:"format" yaml:"format"` // "wav", "flac", "mp3", "ogg", "raw"
}

type UploadConfig struct {
	URL       string `mapstructure:"url" yaml:"url,omitempty"`
	TimeoutMs int    `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	Retries   int    `mapstructure:"retries" yaml:"retries"`
}

type LoggingConfig struct {
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

func (r RecordingConfig) Countdown() time.Duration {
	return time.Duration(r.CountdownMs) * time.Millisecond
}

func (r RecordingConfig) Timeslice() time.Duration {
	return time.Duration(r.TimesliceMs) * time.Millisecond
}

func (m MonitorConfig) Interval() time.Duration {
	return time.Duration(m.IntervalMs) * time.Millisecond
}

func (u UploadConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutMs) * time.Millisecond
}

var defaultConfig = Config{
	Audio: AudioConfig{
		Backend:    "auto",
		SampleRate: 48000,
		Channels:   1,
	},
	Recording: RecordingConfig{
		CountdownMs:     3000,
		TimesliceMs:     2000,
		PreferredFormat: "audio/wav",
		FallbackFormat:  "audio/basic",
	},
	Monitor: MonitorConfig{
		IntervalMs: 100,
		FFTSize:    1024,
		Smoothing:  0.3,
	},
	Output: OutputConfig{
		Directory: filepath.Join(os.Getenv("HOME"), "Audio", "MicRecord"),
		Format:    "wav",
	},
	Upload: UploadConfig{
		TimeoutMs: 30000,
		Retries:   2,
	},
	Logging: LoggingConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
		MaxAgeDays: 28,
	},
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	cfg := defaultConfig
	return &cfg
}

// DefaultPath is the config location used when --config is not given.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/micrecord.yaml")
}

func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	// Validate configuration format first
	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	// Determine which config to use
	configName := profile
	if configName == "" {
		configName = rootConfig.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selectedProfile, exists := rootConfig.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	selectedConfig, err := convertProfileToConfig(selectedProfile, rootConfig.Definitions)
	if err != nil {
		return nil, fmt.Errorf("error resolving configuration profile '%s': %w", configName, err)
	}

	// Merge with the default profile if it exists and we're not already using it
	if configName != "default" {
		if defaultProfile, exists := rootConfig.Configs["default"]; exists {
			base, err := convertProfileToConfig(defaultProfile, rootConfig.Definitions)
			if err != nil {
				return nil, fmt.Errorf("error resolving default configuration: %w", err)
			}
			selectedConfig = mergeConfigs(base, selectedConfig)
		}
	}

	// Global audio settings fill what neither profile set
	if rootConfig.Audio != nil {
		selectedConfig = mergeConfigs(&Config{Audio: *rootConfig.Audio}, selectedConfig)
	}

	// Global recordings directory takes priority over profile-specific directory
	if rootConfig.Globals != nil && rootConfig.Globals.Output.RecordingsDirectory != "" {
		selectedConfig.Output.Directory = rootConfig.Globals.Output.RecordingsDirectory
	}

	if rootConfig.Logging != nil {
		selectedConfig.Logging = *rootConfig.Logging
	}

	selectedConfig = mergeConfigs(Default(), selectedConfig)
	selectedConfig.Profile = configName

	selectedConfig.Output.Directory = expandPath(selectedConfig.Output.Directory)
	selectedConfig.Logging.File = expandPath(selectedConfig.Logging.File)

	if err := validateConfig(selectedConfig); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return selectedConfig, nil
}

// LoadOrDefault loads configFile when it exists and falls back to the built-in
// defaults when the file is missing and was not explicitly requested.
func LoadOrDefault(configFile, profile string, explicit bool) (*Config, error) {
	if configFile == "" {
		configFile = DefaultPath()
	}
	if _, err := os.Stat(configFile); err != nil && os.IsNotExist(err) && !explicit {
		return Default(), nil
	}
	return LoadWithProfile(configFile, profile)
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return err
	}
	if _, exists := rootConfig.Configs[newActiveConfig]; !exists {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	// Use a dedicated viper instance to avoid interfering with other readers
	v := viper.New()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	v.Set("active_config", newActiveConfig)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}

	return nil
}

// convertProfileToConfig converts a ConfigProfile to Config by resolving the microphone reference
func convertProfileToConfig(profile *ConfigProfile, definitions *DefinitionsConfig) (*Config, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile cannot be nil")
	}

	config := &Config{
		Audio:     profile.Audio,
		Recording: profile.Recording,
		Monitor:   profile.Monitor,
		Output:    profile.Output,
		Upload:    profile.Upload,
	}

	if profile.Microphone == nil {
		return config, nil
	}

	ref := profile.Microphone
	if ref.Ref == "" {
		return nil, fmt.Errorf("microphone: 'ref' is required")
	}

	definition := findMicrophone(definitions, ref.Ref)
	if definition == nil {
		return nil, fmt.Errorf("microphone: reference '%s' not found in definitions", ref.Ref)
	}

	config.Microphone = Microphone{
		Name:   definition.Name,
		Device: definition.Device,
	}
	if config.Audio.SampleRate == 0 {
		config.Audio.SampleRate = definition.SampleRate
	}
	if config.Audio.Channels == 0 {
		config.Audio.Channels = definition.Channels
	}

	// Apply overrides
	if ref.Channels != nil {
		config.Audio.Channels = *ref.Channels
	}

	return config, nil
}

func findMicrophone(definitions *DefinitionsConfig, id string) *MicrophoneDefinition {
	if definitions == nil {
		return nil
	}
	for i := range definitions.Microphones {
		if definitions.Microphones[i].ID == id {
			return &definitions.Microphones[i]
		}
	}
	return nil
}

// mergeConfigs returns profile with every zero value filled from base.
func mergeConfigs(base, profile *Config) *Config {
	result := &Config{}
	if base != nil {
		*result = *base
	}
	if profile == nil {
		return result
	}

	result.Profile = profile.Profile

	if profile.Audio.Backend != "" {
		result.Audio.Backend = profile.Audio.Backend
	}
	if profile.Audio.SampleRate != 0 {
		result.Audio.SampleRate = profile.Audio.SampleRate
	}
	if profile.Audio.Channels != 0 {
		result.Audio.Channels = profile.Audio.Channels
	}

	if profile.Microphone.Name != "" || profile.Microphone.Device != "" {
		result.Microphone = profile.Microphone
	}

	if profile.Recording.CountdownMs != 0 {
		result.Recording.CountdownMs = profile.Recording.CountdownMs
	}
	if profile.Recording.TimesliceMs != 0 {
		result.Recording.TimesliceMs = profile.Recording.TimesliceMs
	}
	if profile.Recording.PreferredFormat != "" {
		result.Recording.PreferredFormat = profile.Recording.PreferredFormat
	}
	if profile.Recording.FallbackFormat != "" {
		result.Recording.FallbackFormat = profile.Recording.FallbackFormat
	}

	if profile.Monitor.IntervalMs != 0 {
		result.Monitor.IntervalMs = profile.Monitor.IntervalMs
	}
	if profile.Monitor.FFTSize != 0 {
		result.Monitor.FFTSize = profile.Monitor.FFTSize
	}
	if profile.Monitor.Smoothing != 0 {
		result.Monitor.Smoothing = profile.Monitor.Smoothing
	}

	if profile.Output.Directory != "" {
		result.Output.Directory = profile.Output.Directory
	}
	if profile.Output.Format != "" {
		result.Output.Format = profile.Output.Format
	}

	if profile.Upload.URL != "" {
		result.Upload.URL = profile.Upload.URL
	}
	if profile.Upload.TimeoutMs != 0 {
		result.Upload.TimeoutMs = profile.Upload.TimeoutMs
	}
	if profile.Upload.Retries != 0 {
		result.Upload.Retries = profile.Upload.Retries
	}

	if profile.Logging.File != "" {
		result.Logging.File = profile.Logging.File
	}
	if profile.Logging.MaxSizeMB != 0 {
		result.Logging.MaxSizeMB = profile.Logging.MaxSizeMB
	}
	if profile.Logging.MaxBackups != 0 {
		result.Logging.MaxBackups = profile.Logging.MaxBackups
	}
	if profile.Logging.MaxAgeDays != 0 {
		result.Logging.MaxAgeDays = profile.Logging.MaxAgeDays
	}
	if profile.Logging.Compress {
		result.Logging.Compress = true
	}

	return result
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

var (
	supportedBackends      = []string{"auto", "malgo", "miniaudio", "pipewire"}
	supportedOutputFormats = []string{"wav", "flac", "mp3", "ogg", "raw"}
)

// validateConfig checks the resolved configuration values
func validateConfig(config *Config) error {
	if !contains(supportedBackends, strings.ToLower(config.Audio.Backend)) {
		return fmt.Errorf("audio.backend must be one of %v, got: %s", supportedBackends, config.Audio.Backend)
	}
	if config.Audio.SampleRate < 8000 || config.Audio.SampleRate > 192000 {
		return fmt.Errorf("audio.sample_rate must be between 8000 and 192000, got: %d", config.Audio.SampleRate)
	}
	if config.Audio.Channels != 1 && config.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2, got: %d", config.Audio.Channels)
	}

	if config.Recording.CountdownMs < 0 {
		return fmt.Errorf("recording.countdown_ms must not be negative, got: %d", config.Recording.CountdownMs)
	}
	if config.Recording.TimesliceMs < 100 {
		return fmt.Errorf("recording.timeslice_ms must be at least 100, got: %d", config.Recording.TimesliceMs)
	}
	if !strings.HasPrefix(config.Recording.PreferredFormat, "audio/") {
		return fmt.Errorf("recording.preferred_format must be an audio MIME type, got: %s", config.Recording.PreferredFormat)
	}
	if !strings.HasPrefix(config.Recording.FallbackFormat, "audio/") {
		return fmt.Errorf("recording.fallback_format must be an audio MIME type, got: %s", config.Recording.FallbackFormat)
	}

	if config.Monitor.IntervalMs < 10 {
		return fmt.Errorf("monitor.interval_ms must be at least 10, got: %d", config.Monitor.IntervalMs)
	}
	if !isPowerOfTwo(config.Monitor.FFTSize) || config.Monitor.FFTSize < 32 || config.Monitor.FFTSize > 32768 {
		return fmt.Errorf("monitor.fft_size must be a power of two between 32 and 32768, got: %d", config.Monitor.FFTSize)
	}
	if config.Monitor.Smoothing < 0 || config.Monitor.Smoothing >= 1 {
		return fmt.Errorf("monitor.smoothing must be in [0, 1), got: %.2f", config.Monitor.Smoothing)
	}

	if !contains(supportedOutputFormats, config.Output.Format) {
		return fmt.Errorf("output.format must be one of %v, got: %s", supportedOutputFormats, config.Output.Format)
	}
	if config.Upload.URL != "" && !strings.HasPrefix(config.Upload.URL, "http://") && !strings.HasPrefix(config.Upload.URL, "https://") {
		return fmt.Errorf("upload.url must be an http(s) URL, got: %s", config.Upload.URL)
	}

	return nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// ValidateConfigurationFormat validates the configuration file format and returns parsed config
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)

	// Set environment variable prefix
	v.SetEnvPrefix("MICRECORD")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateDefinitions(rootConfig.Definitions); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}

	// Unmarshal drops profiles without settings; they resolve to the defaults
	if rootConfig.Configs == nil {
		rootConfig.Configs = make(map[string]*ConfigProfile)
	}
	for _, name := range profileNames(v) {
		if rootConfig.Configs[name] == nil {
			rootConfig.Configs[name] = &ConfigProfile{}
		}
	}
	if len(rootConfig.Configs) == 0 {
		return nil, fmt.Errorf("configs section is required")
	}

	// Validate that all microphone references in configs are valid
	for configName, configProfile := range rootConfig.Configs {
		if err := validateMicrophoneReference(configProfile.Microphone, rootConfig.Definitions); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", configName, err)
		}
	}

	return &rootConfig, nil
}

// profileNames lists the keys of the configs section as written in the file,
// including profiles that only use defaults.
func profileNames(v *viper.Viper) []string {
	configs, ok := v.Get("configs").(map[string]interface{})
	if !ok {
		return nil
	}
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	return names
}

// validateDefinitions validates the definitions section, which is optional
func validateDefinitions(definitions *DefinitionsConfig) error {
	if definitions == nil {
		return nil
	}

	seenIDs := make(map[string]bool)

	for i, def := range definitions.Microphones {
		if def.ID == "" {
			return fmt.Errorf("definitions.microphones[%d]: 'id' is required", i)
		}
		if seenIDs[def.ID] {
			return fmt.Errorf("definitions.microphones[%d]: duplicate ID '%s'", i, def.ID)
		}
		seenIDs[def.ID] = true

		if def.Name == "" {
			return fmt.Errorf("definitions.microphones[%d]: 'name' is required", i)
		}
		if def.Channels != 0 && def.Channels != 1 && def.Channels != 2 {
			return fmt.Errorf("definitions.microphones[%d]: channels must be 1 or 2, got: %d", i, def.Channels)
		}
		if def.SampleRate < 0 {
			return fmt.Errorf("definitions.microphones[%d]: sample_rate must not be negative", i)
		}
	}

	return nil
}

func validateMicrophoneReference(ref *MicrophoneReference, definitions *DefinitionsConfig) error {
	if ref == nil {
		return nil
	}
	if ref.Ref == "" {
		return fmt.Errorf("microphone: 'ref' is required")
	}
	if findMicrophone(definitions, ref.Ref) == nil {
		return fmt.Errorf("microphone: reference '%s' not found in definitions", ref.Ref)
	}
	if ref.Channels != nil && *ref.Channels != 1 && *ref.Channels != 2 {
		return fmt.Errorf("microphone: channels override must be 1 or 2, got: %d", *ref.Channels)
	}
	return nil
}
