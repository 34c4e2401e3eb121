package api

import "embed"

//go:embed openapi/*.yaml
var OpenAPIFS embed.FS
