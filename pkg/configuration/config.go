package configuration

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LocalOverridePath is read after the main file when it exists.
const LocalOverridePath = "settings.local.cfg"

// Config holds the parsed settings.cfg sections.
type Config struct {
	settings map[string]map[string]string
	filePath string
	mu       sync.RWMutex
}

var (
	globalConfig *Config
	once         sync.Once
)

// sectionOrder fixes the layout of generated files.
var sectionOrder = []string{"Interpreter", "REPL", "Server", "Network", "TLS", "JWT", "Store", "Debug"}

// Initialize loads configPath, writing a default file first if it does not exist.
// Values from settings.local.cfg override the main file.
func Initialize(configPath string) error {
	var err error
	once.Do(func() {
		globalConfig, err = loadConfig(configPath)
		if err != nil {
			return
		}
		if _, statErr := os.Stat(LocalOverridePath); statErr == nil {
			// Silent: the base configuration stays usable
			_ = globalConfig.loadLocalConfig(LocalOverridePath)
		}
	})
	return err
}

// LoadDefaults installs the built-in defaults without touching the filesystem.
// Used by tests and by commands that run without a settings file.
func LoadDefaults() {
	c := &Config{settings: make(map[string]map[string]string)}
	c.createDefaultConfig()
	globalConfig = c
}

func loadConfig(filePath string) (*Config, error) {
	config := &Config{
		settings: make(map[string]map[string]string),
		filePath: filePath,
	}
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		config.createDefaultConfig()
		if err := config.saveToFile(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return config, nil
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := config.parse(file); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) loadLocalConfig(filePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	return c.parse(file)
}

// parse reads INI-style "[Section]" headers and "key = value" lines.
// Later values overwrite earlier ones, which is what makes local overrides work.
func (c *Config) parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	currentSection := ""

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			currentSection = line[1 : len(line)-1]
			if c.settings[currentSection] == nil {
				c.settings[currentSection] = make(map[string]string)
			}
			continue
		}

		if strings.Contains(line, "=") && currentSection != "" {
			parts := strings.SplitN(line, "=", 2)
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			c.settings[currentSection][key] = value
		}
	}
	return scanner.Err()
}

func (c *Config) createDefaultConfig() {
	c.settings["Interpreter"] = map[string]string{
		"stop_on_error": "true",
		"max_errors":    "25",
		"source_name":   "<stdin>",
	}

	c.settings["REPL"] = map[string]string{
		"history_file":        ".looplang_history",
		"prompt":              "loop> ",
		"continuation_prompt": "....> ",
	}

	c.settings["Server"] = map[string]string{
		"listen_address":    ":8080",
		"read_buffer_size":  "1024",
		"write_buffer_size": "1024",
		"allowed_origins":   "",
		"max_sessions":      "64",
	}

	c.settings["Network"] = map[string]string{
		"pong_timeout":        "60s",
		"write_wait_timeout":  "10s",
		"max_message_size_kb": "64",
		"max_channel_buffer":  "256",
		"input_timeout":       "5m",
	}

	c.settings["TLS"] = map[string]string{
		"enable_tls":         "false",
		"enable_letsencrypt": "false",
		"domain":             "",
		"letsencrypt_email":  "",
		"cert_cache_dir":     "./certs",
		"cert_file":          "./certs/server.crt",
		"key_file":           "./certs/server.key",
		"redirect_address":   "",
	}

	c.settings["JWT"] = map[string]string{
		"secret_key":             "",
		"token_expiration_hours": "24",
		"issuer":                 "looplang",
	}

	c.settings["Store"] = map[string]string{
		"database":      "looplang.db",
		"record_runs":   "true",
		"max_output_kb": "256",
	}

	c.settings["Debug"] = map[string]string{
		"enable_debug_logging": "true",
		"log_level":            "INFO",
		"log_file":             "looplang.log",
		"max_log_size_mb":      "10",
		"log_rotation_count":   "3",
		"log_lexer":            "false",
		"log_parser":           "false",
		"log_interpreter":      "false",
		"log_session":          "true",
		"log_repl":             "false",
		"log_server":           "true",
		"log_auth":             "true",
		"log_security":         "true",
		"log_store":            "true",
		"log_suite":            "true",
		"log_config":           "true",
		"log_general":          "true",
	}
}

func (c *Config) saveToFile() error {
	if err := os.MkdirAll(filepath.Dir(c.filePath), 0755); err != nil {
		return err
	}

	file, err := os.Create(c.filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	w.WriteString("; looplang configuration file\n")
	w.WriteString("; Generated automatically - modify with care\n")
	w.WriteString(";\n\n")

	written := make(map[string]bool)
	for _, section := range sectionOrder {
		writeSection(w, section, c.settings[section])
		written[section] = true
	}

	// Sections added at runtime via SetString
	var extra []string
	for section := range c.settings {
		if !written[section] {
			extra = append(extra, section)
		}
	}
	sort.Strings(extra)
	for _, section := range extra {
		writeSection(w, section, c.settings[section])
	}

	return w.Flush()
}

func writeSection(w *bufio.Writer, section string, settings map[string]string) {
	if settings == nil {
		return
	}
	fmt.Fprintf(w, "[%s]\n", section)
	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(w, "%s = %s\n", key, settings[key])
	}
	w.WriteString("\n")
}

// GetString returns section.key or defaultValue.
func GetString(section, key, defaultValue string) string {
	if globalConfig == nil {
		return defaultValue
	}

	globalConfig.mu.RLock()
	defer globalConfig.mu.RUnlock()

	if sectionMap, exists := globalConfig.settings[section]; exists {
		if value, exists := sectionMap[key]; exists {
			return value
		}
	}
	return defaultValue
}

// GetInt returns section.key as an int, or defaultValue if missing or malformed.
func GetInt(section, key string, defaultValue int) int {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := strconv.Atoi(str); err == nil {
		return value
	}
	return defaultValue
}

// GetBool returns section.key as a bool, or defaultValue if missing or malformed.
func GetBool(section, key string, defaultValue bool) bool {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := strconv.ParseBool(str); err == nil {
		return value
	}
	return defaultValue
}

// GetDuration returns section.key parsed by time.ParseDuration.
func GetDuration(section, key string, defaultValue time.Duration) time.Duration {
	str := GetString(section, key, "")
	if str == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(str); err == nil {
		return value
	}
	return defaultValue
}

// GetList splits a comma separated value, dropping empty entries.
func GetList(section, key string) []string {
	var out []string
	for _, part := range strings.Split(GetString(section, key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// GetSection returns a copy of all key-value pairs of a section.
func GetSection(sectionName string) map[string]string {
	result := make(map[string]string)
	if globalConfig == nil {
		return result
	}

	globalConfig.mu.RLock()
	defer globalConfig.mu.RUnlock()

	for key, value := range globalConfig.settings[sectionName] {
		result[key] = value
	}
	return result
}

// SetString overrides section.key in memory.
func SetString(section, key, value string) {
	if globalConfig == nil {
		return
	}

	globalConfig.mu.Lock()
	defer globalConfig.mu.Unlock()

	if globalConfig.settings[section] == nil {
		globalConfig.settings[section] = make(map[string]string)
	}
	globalConfig.settings[section][key] = value
}

// Save writes the current configuration back to the file it was loaded from.
func Save() error {
	if globalConfig == nil {
		return fmt.Errorf("configuration not initialized")
	}
	if globalConfig.filePath == "" {
		return fmt.Errorf("configuration has no backing file")
	}

	globalConfig.mu.RLock()
	defer globalConfig.mu.RUnlock()

	return globalConfig.saveToFile()
}
