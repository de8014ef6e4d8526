// Package config loads /etc/eopkg/eopkg.conf via spf13/viper, with coded defaults
// for every key and environment-variable proxy overrides.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Directories holds the on-disk layout roots eopkg reads and writes under.
type Directories struct {
	LibDir     string // /var/lib/eopkg
	CacheDir   string // /var/cache/eopkg
	ConfigDir  string // /etc/eopkg
	// DestDir is the root payloads are installed under, mirroring
	// pisi.conf's destinationdirectory key. Defaults to "/" — a real
	// system install — but tests and chroot-style installs override it.
	DestDir string
}

// General holds the [general] section of eopkg.conf.
type General struct {
	Distribution        string
	DistributionRelease string
	Architecture        string
	BandwidthLimitKBps  int
	RetryAttempts       int
	IgnoreSafety        bool
	IgnoreDelta         bool
	HTTPProxy           string
	HTTPSProxy          string
	FTPProxy            string
}

// Config is the fully-resolved configuration, defaults applied.
type Config struct {
	General     General
	Directories Directories
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.distribution", "Solus")
	v.SetDefault("general.distribution_release", "unstable")
	v.SetDefault("general.architecture", "x86_64")
	v.SetDefault("general.bandwidth_limit", 0)
	v.SetDefault("general.retry_attempts", 3)
	v.SetDefault("general.ignore_safety", false)
	v.SetDefault("general.ignore_delta", false)
	v.SetDefault("general.http_proxy", "")
	v.SetDefault("general.https_proxy", "")
	v.SetDefault("general.ftp_proxy", "")

	v.SetDefault("directories.lib_dir", "/var/lib/eopkg")
	v.SetDefault("directories.cache_dir", "/var/cache/eopkg")
	v.SetDefault("directories.config_dir", "/etc/eopkg")
	v.SetDefault("directories.dest_dir", "/")
}

// Load reads path (an INI file) if present, merges environment-variable
// proxy overrides (HTTP_PROXY/HTTPS_PROXY/FTP_PROXY take precedence over
// config file values) on top, and returns a fully-defaulted Config. A
// missing file is not an error: defaults apply as-is.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("ini")
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = v.BindEnv("general.http_proxy", "HTTP_PROXY")
	_ = v.BindEnv("general.https_proxy", "HTTPS_PROXY")
	_ = v.BindEnv("general.ftp_proxy", "FTP_PROXY")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return Config{}, err
			}
		}
	}

	return Config{
		General: General{
			Distribution:        v.GetString("general.distribution"),
			DistributionRelease: v.GetString("general.distribution_release"),
			Architecture:        v.GetString("general.architecture"),
			BandwidthLimitKBps:  v.GetInt("general.bandwidth_limit"),
			RetryAttempts:       v.GetInt("general.retry_attempts"),
			IgnoreSafety:        v.GetBool("general.ignore_safety"),
			IgnoreDelta:         v.GetBool("general.ignore_delta"),
			HTTPProxy:           v.GetString("general.http_proxy"),
			HTTPSProxy:          v.GetString("general.https_proxy"),
			FTPProxy:            v.GetString("general.ftp_proxy"),
		},
		Directories: Directories{
			LibDir:    v.GetString("directories.lib_dir"),
			CacheDir:  v.GetString("directories.cache_dir"),
			ConfigDir: v.GetString("directories.config_dir"),
			DestDir:   v.GetString("directories.dest_dir"),
		},
	}, nil
}

// ProxyFor returns the configured proxy URI for the given URI scheme
// ("http", "https", "ftp"), or "" if none applies.
func (c Config) ProxyFor(scheme string) string {
	switch strings.ToLower(scheme) {
	case "http":
		return c.General.HTTPProxy
	case "https":
		return c.General.HTTPSProxy
	case "ftp":
		return c.General.FTPProxy
	default:
		return ""
	}
}
