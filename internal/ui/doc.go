// Package ui implements a terminal progress view for a provisioning run using bubbletea's Elm architecture.
//
// The [Model] starts the run in the background and renders the updates it emits:
//  1. Preload : reference caches being filled
//  2. Duplicate detection : emails checked against the identity store
//  3. Provision : a progress bar with the most recent record outcomes
//  4. Complete : the summary counters of the run
//
// Progress updates flow through a buffered channel from the provisioning run, so a slow terminal never
// blocks the pipeline. Pressing q cancels the run; records already started still finish.
package ui
