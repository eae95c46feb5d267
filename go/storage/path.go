package storage

import (
	"fmt"
	"strings"

	"github.com/oslokommune/data-uploader/go/uploader"
)

// Storage stages.
const (
	StageRaw       = "raw"
	StageProcessed = "processed"
)

// Dataset is the slice of a dataset record which determines its storage
// location.
type Dataset interface {
	DatasetID() string
	Confidentiality() string
	Parent() string
}

// Paths derives deterministic storage locations for dataset editions.
type Paths struct {
	Bucket string
}

// Key returns the bucket-relative storage key of an edition:
//
//	<stage>/<confidentiality>/[<parent>/]<datasetId>/version=<v>/(edition=<e>|latest)[/<filename>]
//
// The editionID must be of the form datasetId/version/edition, where the
// literal `latest` as the edition part names the mutable latest pointer.
func (p Paths) Key(ds Dataset, editionID, stage, filename string) (string, error) {
	var parts = strings.Split(editionID, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", uploader.E(uploader.InvalidEditionFormat, "Invalid dataset edition format")
	}

	var b strings.Builder
	b.WriteString(stage)
	b.WriteByte('/')
	b.WriteString(ds.Confidentiality())
	b.WriteByte('/')
	if parent := ds.Parent(); parent != "" {
		b.WriteString(parent)
		b.WriteByte('/')
	}
	b.WriteString(parts[0])
	b.WriteString("/version=")
	b.WriteString(parts[1])
	b.WriteByte('/')
	if parts[2] == "latest" {
		b.WriteString("latest")
	} else {
		b.WriteString("edition=")
		b.WriteString(parts[2])
	}
	if filename != "" {
		b.WriteByte('/')
		b.WriteString(filename)
	}
	return b.String(), nil
}

// URL returns the absolute s3:// URL of an edition.
func (p Paths) URL(ds Dataset, editionID, stage, filename string) (string, error) {
	var key, err = p.Key(ds, editionID, stage, filename)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("s3://%s/%s", p.Bucket, key), nil
}
