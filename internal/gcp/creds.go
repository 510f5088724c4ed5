// Package gcp wraps the Google Cloud clients used for file storage, speech
// transcription and PDF text extraction.
package gcp

import (
	"os"
	"strings"

	"google.golang.org/api/option"
)

// ClientOptions builds credential options from an explicit value or, when
// empty, from GOOGLE_APPLICATION_CREDENTIALS_JSON then
// GOOGLE_APPLICATION_CREDENTIALS. A value starting with "{" is inline JSON;
// anything else is a file path. No options means application default
// credentials.
func ClientOptions(credentials string) []option.ClientOption {
	creds := strings.TrimSpace(credentials)
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	}
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}
