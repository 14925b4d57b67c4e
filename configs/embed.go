// Package configs embeds the configuration templates written by
// 'amansearch config init'.
package configs

import _ "embed"

// ProjectConfigTemplate is the starting .amansearch.yaml.
//
//go:embed project-config.example.yaml
var ProjectConfigTemplate string

// SampleContent is the example datasource file the template indexes.
//
//go:embed sample-content.json
var SampleContent string

// SampleContentFile is the name the template expects SampleContent under.
const SampleContentFile = "content.json"
