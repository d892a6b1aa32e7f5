// Package sheet reads user records from xlsx workbooks and csv files.
//
// A [Reader] is restartable: each call to [Reader.Records] reopens the file and returns a fresh
// [Cursor], which yields records until [io.EOF]. Fully empty rows are ignored, the configured number
// of header rows is skipped, and rows failing validation are counted in [Stats] instead of being
// returned. [Reader.Batches] groups the same sequence into fixed-size slices for batch processing.
package sheet
