package main

// Flag structs decouple cobra from command logic for testing.

type WriteFlags struct {
	ConfigPath string
	OutDir     string
	Events     int
}

type MetadataFlags struct {
	ConfigPath string
}

type InspectFlags struct {
	File      string
	ByteOrder string
	CPUID     bool
	JSON      bool
}

type DemoFlags struct {
	OutDir string
	Events int
}
