package main

import "time"

// Flag structs to decouple cobra from logic for testing.

type GlobalFlags struct {
	ConfigPath string
}

type RunFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
	// For tests: stop after this long instead of waiting for a signal
	StopAfter time.Duration
}

type CheckFlags struct {
	ConfigPath string
}

type RecordFlags struct {
	Path   string
	Slot   int
	OwnID  int
	PeerID int
}

type ProbeFlags struct {
	PID int
	Exe string
}

type RedeployFlags struct {
	Target string
	Backup string
}

type StatusFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Check      bool
	CACert     string
	Insecure   bool
}
