// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

// Config is the unmarshaled runtime configuration.
type Config struct {
	Version string

	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"baseUrl"`

	LogLevel      string `mapstructure:"logLevel"`
	LogPath       string `mapstructure:"logPath"`
	LogMaxSize    int    `mapstructure:"logMaxSize"`
	LogMaxBackups int    `mapstructure:"logMaxBackups"`

	DataDir string `mapstructure:"dataDir"`

	// Default locale for the recommendation surface. Requests may override
	// both per call.
	Country  string `mapstructure:"country"`
	Language string `mapstructure:"language"`

	// Optional CORS relay in front of the built-in public one. When
	// CustomRelayPrimary is set the custom relay is tried before the
	// default relay, not after.
	CustomRelayURL     string `mapstructure:"customRelayUrl"`
	CustomRelayPrimary bool   `mapstructure:"customRelayPrimary"`

	FetchTimeoutSeconds int `mapstructure:"fetchTimeoutSeconds"`

	SearchCacheTTLMinutes   int `mapstructure:"searchCacheTtlMinutes"`
	NegativeCacheTTLMinutes int `mapstructure:"negativeCacheTtlMinutes"`
	ChartCacheTTLHours      int `mapstructure:"chartCacheTtlHours"`
	ProbeCacheTTLHours      int `mapstructure:"probeCacheTtlHours"`
}
