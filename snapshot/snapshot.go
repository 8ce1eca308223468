/*
Package snapshot persists the denormalized export document.

PURPOSE:
  The normalized store is the source of truth; after every committed
  mutation the engine rewrites the full export document to a secondary
  location so dashboards and offline tooling can read the catalog
  without touching the database. Writes are best effort. Reads serve
  as a degraded fallback when the primary store is unavailable.

DRIVERS:
  file  - single JSON file on local disk, written atomically (default)
  s3    - single object in an S3-compatible bucket
  none  - snapshotting disabled

SEE ALSO:
  - catalog/export.go: the document shape written here
  - materials/service.go: write-after-commit and fallback wiring
*/
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/warp/materials-engine/catalog"
)

// ErrNoSnapshot indicates that no export document has been written yet.
var ErrNoSnapshot = errors.New("no snapshot written yet")

// Store reads and writes the catalog export document.
type Store interface {
	// Write replaces the stored document with doc.
	Write(ctx context.Context, doc *catalog.ExportDocument) error

	// Read returns the most recently written document, or ErrNoSnapshot.
	Read(ctx context.Context) (*catalog.ExportDocument, error)
}

// Driver identifies a snapshot backend.
type Driver string

const (
	DriverFile Driver = "file"
	DriverS3   Driver = "s3"
	DriverNone Driver = "none"
)

// Open selects a snapshot Store using environment variables.
//
//	MATERIALS_SNAPSHOT_DRIVER: file|s3|none (default file)
//	MATERIALS_SNAPSHOT_FILE: path when driver=file (default ./materials_export.json)
//	(S3 specific variables documented in s3.go)
//
// Returns (nil, nil) when the driver is none.
func Open(ctx context.Context) (Store, error) {
	driver := os.Getenv("MATERIALS_SNAPSHOT_DRIVER")
	if driver == "" {
		driver = string(DriverFile)
	}
	switch Driver(driver) {
	case DriverFile:
		return NewFile(os.Getenv("MATERIALS_SNAPSHOT_FILE"))
	case DriverS3:
		return OpenS3FromEnv(ctx)
	case DriverNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown snapshot driver %s", driver)
	}
}
