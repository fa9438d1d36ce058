// Package assets embeds the pages shown at the end of a workspace install.
//
// success.md and error.md are markdown, rendered once by LoadPages into the
// shared layout. The error page takes the failure text as PageData.Message,
// which html/template escapes. FileServer serves the stylesheet under
// /static/.
package assets
