// Package config provides typed access to loosely-structured
// configuration maps, plus YAML/JSON file loading.
//
// Saver settings and checkpoint addresses both travel as
// map[string]any in practice (deployment config files, per-call
// routing maps). Config wraps such a map with forgiving typed
// accessors; dynoflow.ParseAddress consumes the same raw shape with
// strict validation.
package config
