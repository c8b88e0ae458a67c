package config

import (
	"os"
	"strings"
	"testing"
)

func TestValidateConfigurationFormat_ValidConfig(t *testing.T) {
	validConfig := `
active_config: test

definitions:
  microphones:
    - id: desk
      name: Desk microphone
      device: alsa_input.pci-0000_00_1f.3.analog-stereo
      sample_rate: 48000
      channels: 1

    - id: yeti
      name: Blue Yeti
      device: alsa_input.usb-Blue_Yeti
      channels: 2

configs:
  test:
    microphone:
      ref: yeti
      channels: 1
    output:
      directory: ~/Audio/Test
`

	configFile := createTempConfig(t, validConfig)
	defer os.Remove(configFile)

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if rootConfig == nil {
		t.Fatal("Expected non-nil root config")
	}

	if rootConfig.Definitions == nil {
		t.Fatal("Expected definitions section")
	}

	if len(rootConfig.Definitions.Microphones) != 2 {
		t.Errorf("Expected 2 microphone definitions, got %d", len(rootConfig.Definitions.Microphones))
	}

	def := rootConfig.Definitions.Microphones[0]
	if def.ID != "desk" || def.Name != "Desk microphone" || def.SampleRate != 48000 {
		t.Errorf("Invalid first definition: %+v", def)
	}

	testConfig := rootConfig.Configs["test"]
	if testConfig == nil {
		t.Fatal("Expected test config")
	}
	if testConfig.Microphone == nil || testConfig.Microphone.Ref != "yeti" {
		t.Errorf("Expected microphone ref 'yeti', got %+v", testConfig.Microphone)
	}
	if testConfig.Microphone.Channels == nil || *testConfig.Microphone.Channels != 1 {
		t.Errorf("Expected channels override 1, got %v", testConfig.Microphone.Channels)
	}
}

func TestValidateConfigurationFormat_MissingConfigs(t *testing.T) {
	configFile := createTempConfig(t, "active_config: default\n")
	defer os.Remove(configFile)

	_, err := ValidateConfigurationFormat(configFile)
	if err == nil {
		t.Fatal("Expected error for missing configs section")
	}
	if !strings.Contains(err.Error(), "configs section is required") {
		t.Errorf("Expected 'configs section is required' error, got: %v", err)
	}
}

func TestValidateConfigurationFormat_NoDefinitionsIsValid(t *testing.T) {
	configFile := createTempConfig(t, "configs:\n  default:\n    audio:\n      backend: malgo\n")
	defer os.Remove(configFile)

	if _, err := ValidateConfigurationFormat(configFile); err != nil {
		t.Errorf("Expected no error without definitions, got: %v", err)
	}
}

func TestValidateConfigurationFormat_DefaultsOnlyProfile(t *testing.T) {
	configFile := createTempConfig(t, "active_config: quick\nconfigs:\n  default: {}\n  quick:\n")
	defer os.Remove(configFile)

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		t.Fatalf("Expected defaults-only profiles to be valid, got: %v", err)
	}
	for _, name := range []string{"default", "quick"} {
		if rootConfig.Configs[name] == nil {
			t.Errorf("Expected profile %q to be present", name)
		}
	}

	cfg, err := LoadWithProfile(configFile, "")
	if err != nil {
		t.Fatalf("Expected defaults-only profile to load, got: %v", err)
	}
	if cfg.Profile != "quick" {
		t.Errorf("Expected profile quick, got %s", cfg.Profile)
	}
	if cfg.Recording.CountdownMs != 3000 {
		t.Errorf("Expected default countdown 3000, got %d", cfg.Recording.CountdownMs)
	}
}

func TestValidateConfigurationFormat_EmptyConfigsSection(t *testing.T) {
	configFile := createTempConfig(t, "configs: {}\n")
	defer os.Remove(configFile)

	_, err := ValidateConfigurationFormat(configFile)
	if err == nil || !strings.Contains(err.Error(), "configs section is required") {
		t.Errorf("Expected 'configs section is required' error, got: %v", err)
	}
}

func TestValidateConfigurationFormat_InvalidReference(t *testing.T) {
	invalidConfig := `
definitions:
  microphones:
    - id: desk
      name: Desk

configs:
  default:
    microphone:
      ref: missing
`
	configFile := createTempConfig(t, invalidConfig)
	defer os.Remove(configFile)

	_, err := ValidateConfigurationFormat(configFile)
	if err == nil {
		t.Fatal("Expected error for invalid reference")
	}
	if !strings.Contains(err.Error(), "reference 'missing' not found") {
		t.Errorf("Expected reference error, got: %v", err)
	}
}

func TestValidateConfigurationFormat_InvalidDefinitions(t *testing.T) {
	tests := []struct {
		name   string
		config string
		errMsg string
	}{
		{
			name: "missing id",
			config: `
definitions:
  microphones:
    - name: Desk
configs:
  default: {}
`,
			errMsg: "'id' is required",
		},
		{
			name: "duplicate id",
			config: `
definitions:
  microphones:
    - id: desk
      name: Desk
    - id: desk
      name: Desk again
configs:
  default: {}
`,
			errMsg: "duplicate ID 'desk'",
		},
		{
			name: "missing name",
			config: `
definitions:
  microphones:
    - id: desk
configs:
  default: {}
`,
			errMsg: "'name' is required",
		},
		{
			name: "bad channels",
			config: `
definitions:
  microphones:
    - id: desk
      name: Desk
      channels: 8
configs:
  default: {}
`,
			errMsg: "channels must be 1 or 2",
		},
		{
			name: "bad channel override",
			config: `
definitions:
  microphones:
    - id: desk
      name: Desk
configs:
  default:
    microphone:
      ref: desk
      channels: 3
`,
			errMsg: "channels override must be 1 or 2",
		},
		{
			name: "empty ref",
			config: `
configs:
  default:
    microphone:
      channels: 1
`,
			errMsg: "'ref' is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := createTempConfig(t, tt.config)
			defer os.Remove(configFile)

			_, err := ValidateConfigurationFormat(configFile)
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Expected error containing %q, got: %v", tt.errMsg, err)
			}
		})
	}
}

func TestConvertProfileToConfig_ValidProfile(t *testing.T) {
	channels := 2
	definitions := &DefinitionsConfig{
		Microphones: []MicrophoneDefinition{
			{ID: "yeti", Name: "Blue Yeti", Device: "usb-yeti", SampleRate: 44100, Channels: 1},
		},
	}
	profile := &ConfigProfile{
		Microphone: &MicrophoneReference{Ref: "yeti", Channels: &channels},
		Recording:  RecordingConfig{CountdownMs: 2000},
	}

	cfg, err := convertProfileToConfig(profile, definitions)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.Microphone.Device != "usb-yeti" || cfg.Microphone.Name != "Blue Yeti" {
		t.Errorf("Expected resolved microphone, got %+v", cfg.Microphone)
	}
	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("Expected sample rate from definition, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.Channels != 2 {
		t.Errorf("Expected channels override 2, got %d", cfg.Audio.Channels)
	}
	if cfg.Recording.CountdownMs != 2000 {
		t.Errorf("Expected countdown 2000, got %d", cfg.Recording.CountdownMs)
	}
}

func TestConvertProfileToConfig_MissingReference(t *testing.T) {
	profile := &ConfigProfile{Microphone: &MicrophoneReference{Ref: "ghost"}}

	_, err := convertProfileToConfig(profile, &DefinitionsConfig{})
	if err == nil {
		t.Fatal("Expected error for missing reference")
	}
	if !strings.Contains(err.Error(), "reference 'ghost' not found") {
		t.Errorf("Expected reference error, got: %v", err)
	}
}

func TestConvertProfileToConfig_NilProfile(t *testing.T) {
	if _, err := convertProfileToConfig(nil, nil); err == nil {
		t.Error("Expected error for nil profile")
	}
}

func createTempConfig(t *testing.T, content string) string {
	tmpfile, err := os.CreateTemp("", "micrecord-test-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}

	if err := tmpfile.Close(); err != nil {
		t.Fatalf("Failed to close temp file: %v", err)
	}

	return tmpfile.Name()
}
