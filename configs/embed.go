package configs

import _ "embed"

// Example is the annotated config file written by `edexd config init`.
//
//go:embed edexd.yaml
var Example []byte
