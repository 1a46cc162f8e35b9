package main

import "time"

// MonitorFlags Flag structs to decouple cobra from logic for testing.
type MonitorFlags struct {
	ConfigPath string
	Script     string
	Interval   time.Duration // zero means "not set on the command line"
	NoRestart  bool
	StartNow   bool
	APIServer  bool
	RestartAPI bool
	Listen     string
	Daemonize  bool
	PIDFile    string
	LogFile    string
}

type ServiceFlags struct {
	ConfigPath string
	Direct     bool
}

type StatusFlags struct {
	ConfigPath string
	System     bool
	// Server queries a running monitor's status API instead of probing
	// locally; Insecure skips TLS verification for self-signed endpoints.
	Server   string
	Insecure bool
}

type StopFlags struct {
	ConfigPath string
	Names      []string
	All        bool
	Wait       time.Duration
}
