package logger

import (
	"os"
	"runtime"
)

type Config struct {
	Level      string            `mapstructure:"level"       json:"level"       validate:"omitempty,oneof=debug info warn error fatal"`
	Format     string            `mapstructure:"format"      json:"format"      validate:"omitempty,oneof=json text console"`
	Output     string            `mapstructure:"output"      json:"output"      validate:"omitempty,oneof=stdout stderr file"`
	FilePath   string            `mapstructure:"file_path"   json:"file_path"   validate:"required_if=Output file"`
	MaxSize    int               `mapstructure:"max_size"    json:"max_size"    validate:"gte=0"` // MB
	MaxBackups int               `mapstructure:"max_backups" json:"max_backups" validate:"gte=0"`
	MaxAge     int               `mapstructure:"max_age"     json:"max_age"     validate:"gte=0"` // days
	Compress   bool              `mapstructure:"compress"    json:"compress"`
	Fields     map[string]string `mapstructure:"fields"      json:"fields"` // static fields for k8s/docker
}

func GetDefaultFields() Fields {
	hostname, _ := os.Hostname()

	fields := Fields{
		"hostname":   hostname,
		"pid":        os.Getpid(),
		"go_version": runtime.Version(),
	}

	// Kubernetes fields
	if namespace := os.Getenv("KUBERNETES_NAMESPACE"); namespace != "" {
		fields["k8s_namespace"] = namespace
	}
	if podName := os.Getenv("KUBERNETES_POD_NAME"); podName != "" {
		fields["k8s_pod"] = podName
	}
	if nodeName := os.Getenv("KUBERNETES_NODE_NAME"); nodeName != "" {
		fields["k8s_node"] = nodeName
	}

	// Application fields
	if appVersion := os.Getenv("APP_VERSION"); appVersion != "" {
		fields["app_version"] = appVersion
	}
	if env := os.Getenv("APP_ENV"); env != "" {
		fields["environment"] = env
	}

	return fields
}

func NewDefaultConfig() *Config {
	config := &Config{
		Level:      "info",
		Format:     "console", // Default to console for development
		Output:     "stdout",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
		Fields:     make(map[string]string),
	}
	config.MergeDefaultFields()
	return config
}

// MergeDefaultFields adds the host/container fields without overriding
// anything set explicitly.
func (c *Config) MergeDefaultFields() {
	if c.Fields == nil {
		c.Fields = make(map[string]string)
	}
	for k, v := range GetDefaultFields() {
		if _, exists := c.Fields[k]; exists {
			continue
		}
		if str, ok := v.(string); ok {
			c.Fields[k] = str
		}
	}
}
