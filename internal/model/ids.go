package model

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	artifactNamespace = uuid.MustParse("6f1c3c52-8a57-4f0e-9d0b-2f7f4b1e5a10")
	entryNamespace    = uuid.MustParse("b7d2a4e9-3c61-4b8e-a0f5-91e2c7d84f23")
	masterNamespace   = uuid.MustParse("0d9e6b71-5f28-4a3c-8e14-c6a7b2f9d350")
)

// ArtifactIDForPath derives the artifact identity from a file's base name,
// so the same file ingested again supersedes its earlier version.
func ArtifactIDForPath(path string) string {
	name := strings.ToLower(strings.TrimSpace(filepath.Base(path)))
	return uuid.NewSHA1(artifactNamespace, []byte(name)).String()
}

// EntryID is stable per (artifact, row).
func EntryID(sheetID string, rowIndex int) string {
	return uuid.NewSHA1(entryNamespace, []byte(sheetID+"#"+strconv.Itoa(rowIndex))).String()
}

// MasterID is stable per (kind, normalized code).
func MasterID(kind MasterKind, codeKey string) string {
	return uuid.NewSHA1(masterNamespace, []byte(string(kind)+":"+codeKey)).String()
}
