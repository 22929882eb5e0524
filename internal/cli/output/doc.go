// Package output renders syncroom-cli results.
//
//   - formatter.go: Formatter interface and factory
//   - table.go: aligned tables, with wide mode for extra columns
//   - json.go: indented JSON for scripting
//   - yaml.go: YAML via gopkg.in/yaml.v3
//
// Struct fields tagged `table:"-"` are never shown in tables; fields
// tagged `table:"wide"` only appear with --wide.
package output
