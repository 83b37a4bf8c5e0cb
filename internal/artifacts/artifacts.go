package artifacts

import _ "embed"

// Default settings template, written by `lfsforensics config init` and used
// whenever no settings file exists.
//
//go:embed global/settings.yaml
var GlobalSettings []byte
