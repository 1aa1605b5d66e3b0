// Package companion holds process-wide defaults shared by the engine packages.
package companion

import (
	"fmt"
	"path/filepath"
)

const (
	DefaultAppName      = "companion"
	DefaultConfigPath   = "/etc/companion"
	DefaultDataDir      = "data"
	DefaultPictureDir   = "talk_picture"
	DefaultDatabaseFile = "companion.db"
	DefaultIndexDir     = "memory_index"
	EnvPrefix           = "COMPANION"
)

// DefaultDatabasePath is where the embedded libsql file lives when no path is configured.
var DefaultDatabasePath = filepath.Join(DefaultDataDir, DefaultDatabaseFile)

// ChatThreadID is the checkpoint key of a character's main conversation.
func ChatThreadID(characterID int64) string {
	return fmt.Sprintf("char_%d_chat", characterID)
}

// TextThreadID is the checkpoint key used by diary and social-post runs so they
// never interleave with the conversation checkpoint.
func TextThreadID(characterID int64) string {
	return fmt.Sprintf("char_%d_text", characterID)
}

// Version is stamped at build time with -ldflags "-X ...companion.Version=...".
var Version = "dev"
