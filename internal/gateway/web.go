package gateway

import "embed"

// webFS holds the visit page served at /.
//
//go:embed web
var webFS embed.FS
