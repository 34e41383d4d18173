// Package workflow drives mesh jobs through the conversion pipeline.
//
// Pipeline.Process runs one validated job through download, transform,
// upload and link stages and reports an Outcome. Upload and link are retried
// with a linear backoff; download and transform are not. Partial side effects
// of an aborted job (downloaded mesh, produced volume, orphaned volume record)
// are left in place; the next cycle re-fetches the job and the transform
// stage skips work whose output already exists.
//
// Manager is the poll loop: it prepares working directories, fetches the
// pending batch, validates each record and hands valid jobs to the Pipeline
// strictly one at a time. Job failures are logged and never stop the loop;
// only a configuration failure while preparing directories is fatal.
package workflow
