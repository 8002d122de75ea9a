package app

import (
	"log"
	"mime"
)

// Minimal container images may ship without /etc/mime.types; the embedded
// assets still need correct types under nosniff.
func init() {
	ensureMimeType(".css", "text/css; charset=utf-8")
	ensureMimeType(".js", "text/javascript; charset=utf-8")
}

func ensureMimeType(ext, typ string) {
	if mime.TypeByExtension(ext) != "" {
		return
	}
	if err := mime.AddExtensionType(ext, typ); err != nil {
		log.Printf("app: register MIME type for %s: %v", ext, err)
	}
}
