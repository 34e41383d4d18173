// Package voxapi talks to the remote mesh/volume content API: it lists
// unprocessed meshes, downloads mesh files, creates and uploads volumes, and
// links finished volumes back to their meshes.
//
// Every method returns errors tagged with a services marker so the workflow
// can classify failures without inspecting HTTP details.
package voxapi
