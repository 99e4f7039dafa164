// Package config loads the engine's compile-time tunables from an
// optional hujson (commented JSON) file: defaults, then an optional file
// whose fields override a default only where the file actually sets them.
package config
