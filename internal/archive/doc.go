// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

/*
Package archive builds zip snapshots of the server directory.

A snapshot is produced in two passes over the source tree. Count walks it
once to seed the progress total; Build walks it again and streams every
accepted file into a zip container under its slash-separated relative path.
The tree is assumed not to change materially between the two passes, and
Progress never reports more processed files than the total even if it does.

# Exclusions

Exclusion patterns use doublestar glob syntax and are matched against the
path relative to the source root:

	logs          excludes the top-level logs directory (and any entry named logs)
	*.tmp         excludes every .tmp file at any depth
	world/region  excludes one specific subdirectory
	cache/**      excludes everything under cache

A pattern without a slash is also matched against the entry's base name.
A matching directory is pruned, so nothing beneath it is visited.

# Failure Handling

Build checks the context between files. Cancelling it yields ErrAborted,
any filesystem failure yields ErrIO, and in both cases the partially written
output file is removed before Build returns. No partial archive is ever left
on disk.

# Archive Format

Archives are standard zip files written with klauspost/compress. Level 0
stores files uncompressed; levels 1 through 9 use deflate. Any unzip tool can
restore them.
*/
package archive
