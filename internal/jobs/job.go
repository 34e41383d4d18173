package jobs

import (
	"fmt"
	"path/filepath"
	"strings"

	"voxeliser/internal/services"
)

// SourceFile identifies the mesh to download.
type SourceFile struct {
	Name string
	URL  string
}

// Job is a validated unit of work. All fields are non-empty.
type Job struct {
	ID     string
	Source SourceFile
}

// Paths are the local files a job reads and writes.
type Paths struct {
	InputPath  string
	OutputPath string
}

// Validate checks a raw record and returns the processable Job. The error is
// marked services.ErrValidation and names the first missing field.
func Validate(rec Record) (Job, error) {
	id := rec.Identifier()
	if id == "" {
		return Job{}, invalid("", "id")
	}
	if rec.File == nil {
		return Job{}, invalid(id, "file")
	}
	name := strings.TrimSpace(rec.File.Name)
	if name == "" {
		return Job{}, invalid(id, "file.name")
	}
	url := strings.TrimSpace(rec.File.URL)
	if url == "" {
		return Job{}, invalid(id, "file.url")
	}
	return Job{ID: id, Source: SourceFile{Name: name, URL: url}}, nil
}

func invalid(id, field string) error {
	msg := fmt.Sprintf("record has no %s", field)
	if id != "" {
		msg = fmt.Sprintf("record %s has no %s", id, field)
	}
	return services.Wrap(services.ErrValidation, "validate", "check record", msg, nil)
}

// VolumeFileName returns "<stem>_{D}x{D}x{D}_uint8.raw" for a mesh file name.
// A name without an extension keeps its whole text as the stem.
func VolumeFileName(meshName string, dimension int) string {
	base := filepath.Base(meshName)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = base
	}
	return fmt.Sprintf("%s_%dx%dx%d_uint8.raw", stem, dimension, dimension, dimension)
}

// DerivePaths computes where a job's mesh is downloaded and its volume
// written. Directory components in the remote name are dropped.
func DerivePaths(inputDir, outputDir string, job Job, dimension int) Paths {
	base := filepath.Base(job.Source.Name)
	return Paths{
		InputPath:  filepath.Join(inputDir, base),
		OutputPath: filepath.Join(outputDir, VolumeFileName(base, dimension)),
	}
}
