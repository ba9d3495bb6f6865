//go:build metallib

package kernels

import "embed"

//go:embed metal/*.metallib
var metallibEmbed embed.FS

func init() {
	metallibFS = metallibEmbed
}
