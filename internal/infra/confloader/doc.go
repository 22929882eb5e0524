// Package confloader loads syncroom-server configuration.
//
// It layers, from lowest to highest priority:
//
//  1. Defaults already present in the target struct
//  2. A YAML configuration file
//  3. SYNCROOM_* environment variables
//  4. Explicit map overrides (flags, tests)
//
// A Watcher reports changes to the configuration file so that reloadable
// settings such as the log level can be applied without a restart.
package confloader
