package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Loader handles configuration loading from various sources
type Loader struct{}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadForProject loads configuration for commands operating on a
// project directory. Precedence, lowest first: defaults, global
// config, project-local config, command flags.
func (l *Loader) LoadForProject(cmd *cobra.Command, projectDir string) (*Config, error) {
	l.setupViperDefaults()
	l.loadGlobalConfig()
	l.loadLocalConfig(projectDir)
	l.bindCommandFlags(cmd)

	return Load()
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	viper.SetDefault("buildindex", DefaultBuildIndex)
	viper.SetDefault("output", DefaultOutputDir)
	viper.SetDefault("target", DefaultTarget)
	viper.SetDefault("platform", DefaultPlatform())
	viper.SetDefault("locale", DefaultLocale)
	viper.SetDefault("compile_timeout", DefaultCompileTimeout)
	viper.SetDefault("verbose", DefaultVerbose)
}

// loadGlobalConfig loads global configuration from the user config
// directory
func (l *Loader) loadGlobalConfig() {
	base, err := os.UserConfigDir()
	if err != nil {
		return
	}

	globalDir := filepath.Join(base, "databuild")

	for _, ext := range []string{"yml", "yaml", "json", "toml"} {
		globalPath := filepath.Join(globalDir, "config."+ext)

		if _, err := os.Stat(globalPath); err == nil {
			viper.SetConfigFile(globalPath)

			if err := viper.ReadInConfig(); err == nil {
				break
			}
		}
	}
}

// loadLocalConfig loads local configuration from the project directory
func (l *Loader) loadLocalConfig(projectDir string) {
	if projectDir == "" {
		return
	}

	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return // silently ignore, config.Load() will handle validation
	}

	localPath := FindLocalConfig(abs)
	if localPath != "" {
		viper.SetConfigFile(localPath)
		_ = viper.ReadInConfig()
	}
}

// bindCommandFlags binds command flags to viper
func (l *Loader) bindCommandFlags(cmd *cobra.Command) {
	for _, name := range []string{"buildindex", "output", "target", "platform", "locale", "manifest", "verbose"} {
		if flag := cmd.Flags().Lookup(name); flag != nil {
			_ = viper.BindPFlag(name, flag)
		}
	}

	if flag := cmd.Flags().Lookup("compiler-dir"); flag != nil {
		_ = viper.BindPFlag("compiler_dir", flag)
	}
	if flag := cmd.Flags().Lookup("timeout"); flag != nil {
		_ = viper.BindPFlag("compile_timeout", flag)
	}
}
