package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// SerialOptions mirrors the module link's port parameters field for field,
// so the tuning file's serial section passes straight through.
type SerialOptions struct {
	BaudRate int    `json:"baud_rate,omitempty"`
	DataBits int    `json:"data_bits,omitempty"`
	StopBits int    `json:"stop_bits,omitempty"`
	Parity   string `json:"parity,omitempty"`
}

// TuningConfig represents the root configuration for tuning parameters.
// Pointer fields distinguish "omitted" from "set to zero", so partial
// configs override only what they name.
type TuningConfig struct {
	// Session params
	LearningMode      *bool   `json:"learning_mode,omitempty"`
	LoadMostRecentMap *bool   `json:"load_most_recent_map,omitempty"`
	PoseStaleAfter    *string `json:"pose_stale_after,omitempty"` // duration string like "500ms"
	ProgressBuffer    *int    `json:"progress_buffer,omitempty"`

	// Journal params
	PoseJournalHz *float64 `json:"pose_journal_hz,omitempty"`
	JournalBuffer *int     `json:"journal_buffer,omitempty"`

	// Serial link params
	Serial *SerialOptions `json:"serial,omitempty"`

	// Mock module params (dev mode)
	MockRelocalizeAfter *string `json:"mock_relocalize_after,omitempty"` // duration string like "2s"
	MockPoseHz          *int    `json:"mock_pose_hz,omitempty"`
	MockSaveDuration    *string `json:"mock_save_duration,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from a file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON keep their defaults, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath. It searches from the current directory up through
// common parent directories. Panics if the file cannot be loaded, intended
// for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.PoseStaleAfter != nil && *c.PoseStaleAfter != "" {
		if _, err := time.ParseDuration(*c.PoseStaleAfter); err != nil {
			return fmt.Errorf("invalid pose_stale_after '%s': %w", *c.PoseStaleAfter, err)
		}
	}

	if c.MockRelocalizeAfter != nil && *c.MockRelocalizeAfter != "" {
		if _, err := time.ParseDuration(*c.MockRelocalizeAfter); err != nil {
			return fmt.Errorf("invalid mock_relocalize_after '%s': %w", *c.MockRelocalizeAfter, err)
		}
	}

	if c.MockSaveDuration != nil && *c.MockSaveDuration != "" {
		if _, err := time.ParseDuration(*c.MockSaveDuration); err != nil {
			return fmt.Errorf("invalid mock_save_duration '%s': %w", *c.MockSaveDuration, err)
		}
	}

	if c.ProgressBuffer != nil && *c.ProgressBuffer < 0 {
		return fmt.Errorf("progress_buffer must be non-negative, got %d", *c.ProgressBuffer)
	}

	if c.JournalBuffer != nil && *c.JournalBuffer < 0 {
		return fmt.Errorf("journal_buffer must be non-negative, got %d", *c.JournalBuffer)
	}

	if c.PoseJournalHz != nil && *c.PoseJournalHz < 0 {
		return fmt.Errorf("pose_journal_hz must be non-negative, got %f", *c.PoseJournalHz)
	}

	if c.MockPoseHz != nil && *c.MockPoseHz < 0 {
		return fmt.Errorf("mock_pose_hz must be non-negative, got %d", *c.MockPoseHz)
	}

	return nil
}

// GetLearningMode returns the learning_mode value or the default.
func (c *TuningConfig) GetLearningMode() bool {
	if c.LearningMode == nil {
		return false // default: track against a loaded map only
	}
	return *c.LearningMode
}

// GetLoadMostRecentMap returns the load_most_recent_map value or the default.
func (c *TuningConfig) GetLoadMostRecentMap() bool {
	if c.LoadMostRecentMap == nil {
		return true
	}
	return *c.LoadMostRecentMap
}

// GetPoseStaleAfter parses and returns the PoseStaleAfter as a time.Duration.
func (c *TuningConfig) GetPoseStaleAfter() time.Duration {
	if c.PoseStaleAfter == nil || *c.PoseStaleAfter == "" {
		return 500 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.PoseStaleAfter)
	if err != nil {
		return 500 * time.Millisecond // default on parse error
	}
	return d
}

// GetProgressBuffer returns the progress_buffer value or the default.
func (c *TuningConfig) GetProgressBuffer() int {
	if c.ProgressBuffer == nil {
		return 8
	}
	return *c.ProgressBuffer
}

// GetPoseJournalHz returns the pose_journal_hz value or the default.
// Zero journals every sample.
func (c *TuningConfig) GetPoseJournalHz() float64 {
	if c.PoseJournalHz == nil {
		return 10
	}
	return *c.PoseJournalHz
}

// GetJournalBuffer returns the journal_buffer value or the default.
func (c *TuningConfig) GetJournalBuffer() int {
	if c.JournalBuffer == nil {
		return 256
	}
	return *c.JournalBuffer
}

// GetSerial returns the serial section, zero-valued when omitted.
// Downstream normalization fills port defaults (115200 8N1).
func (c *TuningConfig) GetSerial() SerialOptions {
	if c.Serial == nil {
		return SerialOptions{}
	}
	return *c.Serial
}

// GetMockRelocalizeAfter parses and returns the MockRelocalizeAfter as a
// time.Duration.
func (c *TuningConfig) GetMockRelocalizeAfter() time.Duration {
	if c.MockRelocalizeAfter == nil || *c.MockRelocalizeAfter == "" {
		return 2 * time.Second // default
	}
	d, err := time.ParseDuration(*c.MockRelocalizeAfter)
	if err != nil {
		return 2 * time.Second // default on parse error
	}
	return d
}

// GetMockPoseHz returns the mock_pose_hz value or the default.
func (c *TuningConfig) GetMockPoseHz() int {
	if c.MockPoseHz == nil {
		return 20
	}
	return *c.MockPoseHz
}

// GetMockSaveDuration parses and returns the MockSaveDuration as a
// time.Duration.
func (c *TuningConfig) GetMockSaveDuration() time.Duration {
	if c.MockSaveDuration == nil || *c.MockSaveDuration == "" {
		return time.Second // default
	}
	d, err := time.ParseDuration(*c.MockSaveDuration)
	if err != nil {
		return time.Second // default on parse error
	}
	return d
}
